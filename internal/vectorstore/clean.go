package vectorstore

import (
	"regexp"
	"strings"
)

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// Clean 去掉字母、数字和空白以外的字符，折叠空白并转为小写。
func Clean(text string) string {
	text = nonWordRe.ReplaceAllString(text, "")
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
