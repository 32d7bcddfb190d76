package service

import (
	"fmt"
	"strings"

	"ragchat-go/internal/model"
	"ragchat-go/pkg/llm"
)

const ragPromptTemplate = `You are a helpful and informative bot that answers questions using text from the reference passage included below.
Be sure to respond in a complete sentence, being comprehensive, including all relevant background information.
However, you are talking to a non-technical audience, so be sure to break down complicated concepts and strike a friendly and conversational tone.
If the passage is irrelevant to the answer, you may ignore it.
QUESTION: '%s'
PASSAGE: '%s'

ANSWER:
`

const titleInstruction = `Generate a concise title of 3 to 5 words that captures the topic of the conversation below.
Reply with the title only: no quotes, no trailing punctuation, no explanation.`

// BuildRAGPrompt 把用户问题与检索到的片段填入回答模板。
func BuildRAGPrompt(question string, passages []string) string {
	passage := strings.Join(passages, " ")
	passage = strings.NewReplacer("'", "", "\"", "", "\n", " ").Replace(passage)
	return fmt.Sprintf(ragPromptTemplate, question, passage)
}

// historyRole 把调用方提交的角色映射为模型角色：assistant/model 保持为助手，其余一律视为用户。
func historyRole(role string) llm.Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "model":
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

// composeMessages 把历史轮次放在最终用户消息之前。
func composeMessages(history []model.HistoryItem, content string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: historyRole(h.Role), Content: h.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: content})
}

// buildTitleTranscript 把历史与当前消息整理为一段纯文本记录。
func buildTitleTranscript(history []model.HistoryItem, message string) string {
	var b strings.Builder
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", historyRole(h.Role), strings.TrimSpace(h.Content))
	}
	if message != "" {
		fmt.Fprintf(&b, "%s: %s\n", llm.RoleUser, strings.TrimSpace(message))
	}
	return b.String()
}

const maxTitleWords = 8

// cleanTitle 取模型输出的第一行，去掉引号、Markdown 标记和句末标点。
func cleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(line, " \t\"'`*#“”‘’")
	line = strings.TrimRight(line, ".!?:;,")
	words := strings.Fields(line)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " ")
}
