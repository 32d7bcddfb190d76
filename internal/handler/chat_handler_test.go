package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat-go/internal/middleware"
	"ragchat-go/internal/model"
	"ragchat-go/internal/service"
	"ragchat-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChat struct {
	events []service.Event
	err    error

	mu       sync.Mutex
	requests []service.ChatRequest
	titled   []string
}

func (f *fakeChat) Reply(_ context.Context, req service.ChatRequest, w service.EventWriter) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, ev := range f.events {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeChat) ShouldGenerateTitle(historyLen int, title string) bool {
	return historyLen >= 4 && title == "New Chat"
}

func (f *fakeChat) GenerateTitle(context.Context, string, string, []model.HistoryItem) (string, error) {
	return "", nil
}

func (f *fakeChat) GenerateTitleAsync(conversationID, _ string, _ []model.HistoryItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titled = append(f.titled, conversationID)
}

func (f *fakeChat) Wait() {}

type fakeConversations struct {
	owners map[string]string
}

func (f *fakeConversations) Start(_ context.Context, userID, message string) (*model.Conversation, error) {
	if strings.TrimSpace(message) == "" {
		return nil, service.ErrValidation
	}
	return &model.Conversation{ID: "11111111-1111-1111-1111-111111111111", UserID: userID, Title: "New Chat"}, nil
}

func (f *fakeConversations) Continue(_ context.Context, userID, id, _ string) (*model.Conversation, error) {
	owner, ok := f.owners[id]
	switch {
	case id == "bad":
		return nil, service.ErrInvalidID
	case !ok:
		return nil, service.ErrNotFound
	case owner != userID:
		return nil, service.ErrForbidden
	}
	return &model.Conversation{ID: id, UserID: owner, Title: "New Chat"}, nil
}

func (f *fakeConversations) List(context.Context, string) ([]model.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) Get(context.Context, string, string) (*service.ConversationDetail, error) {
	return nil, service.ErrNotFound
}

func (f *fakeConversations) Rename(context.Context, string, string, string) (*model.Conversation, error) {
	return nil, service.ErrNotFound
}

func (f *fakeConversations) Delete(context.Context, string, string) error {
	return service.ErrNotFound
}

func newChatRouter(chat *fakeChat) *gin.Engine {
	convs := &fakeConversations{owners: map[string]string{"c-mine": "u1", "c-other": "u2"}}
	h := NewChatHandler(chat, convs, nil, nil, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &model.User{ID: "u1", Role: model.RoleUser})
	})
	r.POST("/chat", h.NewChat)
	r.POST("/chat/:conversationId", h.ContinueChat)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewChatStreamsFrames(t *testing.T) {
	chat := &fakeChat{events: []service.Event{
		{Kind: service.EventProgress, Progress: &service.URLProgress{
			InProgress: false, CompletedURLs: []string{"https://go.dev"}, URLs: []string{"https://go.dev"},
		}},
		{Kind: service.EventText, Text: "Hello"},
		{Kind: service.EventText, Text: " world"},
	}}
	w := post(newChatRouter(chat), "/chat", `{"message":"summarize go.dev"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	lines := strings.SplitN(w.Body.String(), "\n", 3)
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"conversationId":"11111111-1111-1111-1111-111111111111"}`, lines[0])

	var progress map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &progress))
	cfg := progress["urls_config"].(map[string]interface{})
	assert.Equal(t, false, cfg["inProgress"])
	assert.Equal(t, []interface{}{"https://go.dev"}, cfg["completed_urls"])
	assert.Equal(t, "Hello world", lines[2])

	require.Len(t, chat.requests, 1)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", chat.requests[0].ConversationID)
}

func TestNewChatFailureBeforeFirstFrameIsJSON(t *testing.T) {
	chat := &fakeChat{err: service.ErrModelUnavailable}
	w := post(newChatRouter(chat), "/chat", `{"message":"hi"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "AI服务暂时不可用")
}

func TestChatMidStreamErrorKeepsStatus(t *testing.T) {
	chat := &fakeChat{events: []service.Event{
		{Kind: service.EventText, Text: "partial"},
		{Kind: service.EventError, Text: "\n[stream interrupted]"},
	}}
	w := post(newChatRouter(chat), "/chat/c-mine", `{"message":"hi","history":[]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial\n[stream interrupted]", w.Body.String())
}

func TestChatModelFailureAfterProgressEndsWithErrorFrame(t *testing.T) {
	chat := &fakeChat{
		events: []service.Event{{Kind: service.EventProgress, Progress: &service.URLProgress{
			CompletedURLs: []string{"https://example.com"}, URLs: []string{"https://example.com"},
		}, Text: "excerpt"}},
		err: service.ErrModelUnavailable,
	}
	w := post(newChatRouter(chat), "/chat/c-mine", `{"message":"summarize https://example.com"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	lines := strings.SplitN(w.Body.String(), "\n", 2)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"urls_config"`)
	assert.Equal(t, "\nAI服务暂时不可用，请稍后重试", lines[1])
}

func TestContinueChatErrors(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid id", "/chat/bad", `{"message":"hi"}`, http.StatusUnprocessableEntity},
		{"missing", "/chat/c-gone", `{"message":"hi"}`, http.StatusNotFound},
		{"foreign", "/chat/c-other", `{"message":"hi"}`, http.StatusForbidden},
		{"malformed body", "/chat/c-mine", `{`, http.StatusBadRequest},
		{"empty new chat", "/chat", `{"message":""}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat := &fakeChat{}
			w := post(newChatRouter(chat), tc.path, tc.body)
			assert.Equal(t, tc.want, w.Code)
			assert.Empty(t, chat.requests)
		})
	}
}

func TestContinueChatTriggersTitleGeneration(t *testing.T) {
	chat := &fakeChat{events: []service.Event{{Kind: service.EventText, Text: "ok"}}}
	r := newChatRouter(chat)

	short := `{"message":"hi","history":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`
	post(r, "/chat/c-mine", short)
	assert.Empty(t, chat.titled)

	long := `{"message":"hi","history":[` +
		`{"role":"user","content":"a"},{"role":"assistant","content":"b"},` +
		`{"role":"user","content":"c"},{"role":"assistant","content":"d"}]}`
	w := post(r, "/chat/c-mine", long)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"c-mine"}, chat.titled)
	require.Len(t, chat.requests, 2)
	assert.Len(t, chat.requests[1].History, 4)
}

func TestEmptyReplyStillStartsStream(t *testing.T) {
	w := post(newChatRouter(&fakeChat{}), "/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "conversationId")
}

type allowAll struct{}

func (allowAll) IsRevoked(context.Context, *token.CustomClaims) (bool, error) { return false, nil }

type oneUser struct{}

func (oneUser) GetProfile(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Role: model.RoleUser}, nil
}

func TestWebSocketTurn(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 1)
	tok, err := jwtManager.GenerateToken("u1", "a@example.com", "user")
	require.NoError(t, err)

	chat := &fakeChat{events: []service.Event{
		{Kind: service.EventText, Text: "Hel"},
		{Kind: service.EventText, Text: "lo"},
	}}
	h := NewChatHandler(chat, &fakeConversations{}, jwtManager, allowAll{}, oneUser{})
	r := gin.New()
	r.GET("/chat/ws/:token", h.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chat/ws/garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gin.H{"type": "message", "message": "hi"}))

	var frames []map[string]interface{}
	for {
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
		if frame["type"] == "completion" {
			break
		}
	}
	require.Len(t, frames, 4)
	assert.Equal(t, "conversation", frames[0]["type"])
	assert.Equal(t, "Hel", frames[1]["chunk"])
	assert.Equal(t, "lo", frames[2]["chunk"])
	assert.Equal(t, "finished", frames[3]["status"])
}
