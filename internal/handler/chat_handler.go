// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ragchat-go/internal/middleware"
	"ragchat-go/internal/model"
	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理流式对话请求（SSE 与 WebSocket）。
type ChatHandler struct {
	chatService         service.ChatService
	conversationService service.ConversationService
	jwtManager          *token.JWTManager
	revocations         middleware.RevocationChecker
	users               middleware.ProfileLoader
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(
	chatService service.ChatService,
	conversationService service.ConversationService,
	jwtManager *token.JWTManager,
	revocations middleware.RevocationChecker,
	users middleware.ProfileLoader,
) *ChatHandler {
	return &ChatHandler{
		chatService:         chatService,
		conversationService: conversationService,
		jwtManager:          jwtManager,
		revocations:         revocations,
		users:               users,
	}
}

// NewChatRequest 是新建对话的请求体。
type NewChatRequest struct {
	Message string `json:"message"`
}

// ContinueChatRequest 是继续对话的请求体，history 由客户端提交。
type ContinueChatRequest struct {
	Message string              `json:"message"`
	History []model.HistoryItem `json:"history"`
}

// progressFrame 是 URL 抓取进度帧的 JSON 结构。
type progressFrame struct {
	URLsConfig *service.URLProgress `json:"urls_config"`
	Text       string               `json:"text"`
}

// sseWriter 把事件写成 text/event-stream 帧。响应头在第一帧之前才写出，
// 因此在此之前发生的错误仍可以用 JSON 状态码返回。
type sseWriter struct {
	c       *gin.Context
	prelude []byte
	started bool
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	if len(w.prelude) > 0 {
		_, _ = w.c.Writer.Write(w.prelude)
	}
	w.c.Writer.Flush()
}

func (w *sseWriter) WriteEvent(ev service.Event) error {
	frame, err := encodeFrame(ev)
	if err != nil {
		return err
	}
	w.start()
	if _, err := w.c.Writer.Write(frame); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func encodeFrame(ev service.Event) ([]byte, error) {
	switch ev.Kind {
	case service.EventProgress:
		b, err := json.Marshal(progressFrame{URLsConfig: ev.Progress, Text: ev.Text})
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		return []byte(ev.Text), nil
	}
}

func conversationFrame(id string) []byte {
	b, _ := json.Marshal(gin.H{"conversationId": id})
	return append(b, '\n')
}

// NewChat 创建对话并流式返回第一轮回答，第一帧为 {"conversationId": ...}。
func (h *ChatHandler) NewChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未登录", nil)
		return
	}
	var req NewChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}

	conv, err := h.conversationService.Start(c.Request.Context(), user.ID, req.Message)
	if err != nil {
		respondError(c, "NewChat", err)
		return
	}

	w := &sseWriter{c: c, prelude: conversationFrame(conv.ID)}
	h.stream(c, w, service.ChatRequest{ConversationID: conv.ID, Message: req.Message})
}

// ContinueChat 在已有对话中继续，必要时在后台自动生成标题。
func (h *ChatHandler) ContinueChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未登录", nil)
		return
	}
	var req ContinueChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}

	conv, err := h.conversationService.Continue(c.Request.Context(), user.ID, c.Param("conversationId"), req.Message)
	if err != nil {
		respondError(c, "ContinueChat", err)
		return
	}
	if h.chatService.ShouldGenerateTitle(len(req.History), conv.Title) {
		h.chatService.GenerateTitleAsync(conv.ID, req.Message, req.History)
	}

	w := &sseWriter{c: c}
	h.stream(c, w, service.ChatRequest{ConversationID: conv.ID, Message: req.Message, History: req.History})
}

func (h *ChatHandler) stream(c *gin.Context, w *sseWriter, req service.ChatRequest) {
	err := h.chatService.Reply(c.Request.Context(), req, w)
	switch {
	case err == nil:
		// 模型没有输出任何片段时也要让客户端收到响应头（以及 conversationId）
		w.start()
	case !w.started:
		respondError(c, "ChatHandler", err)
	case errors.Is(err, context.Canceled):
		log.Infof("[ChatHandler] 客户端断开, conversation: %s", req.ConversationID)
	default:
		// 响应头已写出，只能以错误片段结束流
		log.Warnf("[ChatHandler] 流式响应中断, conversation: %s, error: %v", req.ConversationID, err)
		if werr := w.WriteEvent(service.Event{Kind: service.EventError, Text: "\n" + clientErrorMessage(err)}); werr != nil {
			log.Warnf("[ChatHandler] 写出错误片段失败, conversation: %s, error: %v", req.ConversationID, werr)
		}
	}
}

// wsInbound 是客户端通过 WebSocket 发送的指令。
type wsInbound struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversationId"`
	Message        string              `json:"message"`
	History        []model.HistoryItem `json:"history"`
}

// wsWriter 把事件编码为 JSON 消息，写操作串行化。
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) WriteEvent(ev service.Event) error {
	switch ev.Kind {
	case service.EventProgress:
		return w.send(gin.H{"type": "progress", "urls_config": ev.Progress, "text": ev.Text})
	case service.EventError:
		return w.send(gin.H{"type": "error", "error": ev.Text})
	default:
		return w.send(gin.H{"type": "chunk", "chunk": ev.Text})
	}
}

func (w *wsWriter) completion(status string) {
	now := time.Now()
	_ = w.send(gin.H{
		"type":      "completion",
		"status":    status,
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}

// HandleWebSocket 通过 WebSocket 提供同样的对话流程；{"type":"stop"} 会取消正在进行的回答。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}
	if revoked, err := h.revocations.IsRevoked(ctx, claims); err != nil || revoked {
		respond(c, http.StatusUnauthorized, "token 已失效", nil)
		return
	}
	user, err := h.users.GetProfile(ctx, claims.UserID)
	if err != nil {
		respond(c, http.StatusUnauthorized, "用户不存在", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, user: %s", user.ID)

	w := &wsWriter{conn: conn}
	connCtx, cancelConn := context.WithCancel(context.Background())
	defer cancelConn()

	var (
		mu         sync.Mutex
		cancelTurn context.CancelFunc
		turns      sync.WaitGroup
	)
	defer turns.Wait()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.Warnf("[ChatHandler] 读取 WebSocket 消息失败: %v", err)
			}
			mu.Lock()
			if cancelTurn != nil {
				cancelTurn()
			}
			mu.Unlock()
			return
		}

		if in.Type == "stop" {
			mu.Lock()
			if cancelTurn != nil {
				cancelTurn()
			}
			mu.Unlock()
			continue
		}

		mu.Lock()
		busy := cancelTurn != nil
		var turnCtx context.Context
		if !busy {
			turnCtx, cancelTurn = context.WithCancel(connCtx)
		}
		mu.Unlock()
		if busy {
			_ = w.send(gin.H{"type": "error", "error": "上一条回答尚未结束"})
			continue
		}

		turns.Add(1)
		go func(in wsInbound) {
			defer turns.Done()
			defer func() {
				mu.Lock()
				cancelTurn()
				cancelTurn = nil
				mu.Unlock()
			}()
			h.wsTurn(turnCtx, w, user.ID, in)
		}(in)
	}
}

func (h *ChatHandler) wsTurn(ctx context.Context, w *wsWriter, userID string, in wsInbound) {
	var (
		conv *model.Conversation
		err  error
	)
	if in.ConversationID == "" {
		conv, err = h.conversationService.Start(ctx, userID, in.Message)
		if err == nil {
			err = w.send(gin.H{"type": "conversation", "conversationId": conv.ID})
		}
	} else {
		conv, err = h.conversationService.Continue(ctx, userID, in.ConversationID, in.Message)
		if err == nil && h.chatService.ShouldGenerateTitle(len(in.History), conv.Title) {
			h.chatService.GenerateTitleAsync(conv.ID, in.Message, in.History)
		}
	}
	if err == nil {
		err = h.chatService.Reply(ctx, service.ChatRequest{ConversationID: conv.ID, Message: in.Message, History: in.History}, w)
	}

	switch {
	case err == nil:
		w.completion("finished")
	case errors.Is(err, context.Canceled):
		w.completion("stopped")
	default:
		log.Warnf("[ChatHandler] WebSocket 回答失败: %v", err)
		_ = w.send(gin.H{"type": "error", "status": statusFor(err), "error": clientErrorMessage(err)})
		w.completion("finished")
	}
}

// clientErrorMessage 返回可以展示给客户端的错误描述，基础设施故障不暴露细节。
func clientErrorMessage(err error) string {
	if errors.Is(err, service.ErrInfrastructure) {
		return "AI服务暂时不可用，请稍后重试"
	}
	return err.Error()
}
