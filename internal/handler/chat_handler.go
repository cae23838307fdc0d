package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"guptaai/internal/middleware"
	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/internal/service"
	"guptaai/pkg/log"
	"guptaai/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// 附件以 base64 放在帧里，读上限需要覆盖上传大小
	defaultReadLimit = 16 << 20
)

// 客户端发来的帧类型
const (
	frameMessage    = "message"
	frameVisibility = "visibility"
	frameLogin      = "login"
	frameLogout     = "logout"
	frameClear      = "clear"
	frameHistory    = "history"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 跨域由 CORS 中间件和 token 控制
	},
}

// tabFrame 是标签页通道上客户端发来的一帧。
type tabFrame struct {
	Type       string              `json:"type"`
	Content    string              `json:"content"`
	Model      string              `json:"model"`
	Persona    string              `json:"persona"`
	Attachment *service.Attachment `json:"attachment,omitempty"`
	Hidden     bool                `json:"hidden"`
	Token      string              `json:"token"`
}

// ChatHandler 负责标签页的 WebSocket 通道。
type ChatHandler struct {
	tabService  service.TabService
	chatService service.ChatService
	jwtManager  *token.JWTManager
	blacklist   repository.TokenBlacklistRepository
	readLimit   int64
}

// NewChatHandler 创建一个新的 ChatHandler。maxUploadBytes <= 0 时使用默认读上限。
func NewChatHandler(tabService service.TabService, chatService service.ChatService, jwtManager *token.JWTManager, blacklist repository.TokenBlacklistRepository, maxUploadBytes int64) *ChatHandler {
	limit := int64(defaultReadLimit)
	if maxUploadBytes > 0 {
		// base64 膨胀 4/3，再留出 JSON 外壳的余量
		limit = maxUploadBytes/3*4 + 64<<10
	}
	return &ChatHandler{
		tabService:  tabService,
		chatService: chatService,
		jwtManager:  jwtManager,
		blacklist:   blacklist,
		readLimit:   limit,
	}
}

// NewSession 为新打开的标签页分配会话身份。浏览器已有设备 ID 时原样返回，
// 否则同时分配一个新的设备 ID，访客的归档按设备隔离。
func (h *ChatHandler) NewSession(c *gin.Context) {
	device, ok := parseDevice(c.Query("device"))
	if !ok {
		device = uuid.NewString()
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"session": h.tabService.NewSessionID(), "device": device},
	})
}

// Handle 处理一个标签页的 WebSocket 连接：GET /chat/ws?session=&device=&token=
func (h *ChatHandler) Handle(c *gin.Context) {
	sessionID := c.Query("session")
	if sessionID != "" {
		if _, err := uuid.Parse(sessionID); err != nil {
			fail(c, http.StatusBadRequest, "session tidak valid")
			return
		}
	}

	// 没有设备 ID 的访客只在本会话内可见
	guest := model.GuestIdentity
	if raw := c.Query("device"); raw != "" {
		device, ok := parseDevice(raw)
		if !ok {
			fail(c, http.StatusBadRequest, "device tidak valid")
			return
		}
		guest = model.GuestFor(device)
	}

	account := guest
	if tok := c.Query("token"); tok != "" {
		claims, ok := middleware.VerifyAccessToken(c, h.jwtManager, h.blacklist, tok)
		if !ok {
			fail(c, http.StatusUnauthorized, "Sesi berakhir, silakan login kembali")
			return
		}
		account = claims.Email
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.readLimit)

	// 连接级别的 context：断开时取消仍在进行的模型请求
	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
	}()

	out := &connWriter{conn: conn}
	tab, err := h.tabService.Open(ctx, sessionID, account)
	if err != nil {
		out.sendError("Gagal membuka sesi")
		return
	}
	defer tab.Close()

	tab.SetOnCleared(func() {
		out.sendJSON(gin.H{"type": "cleared"})
		out.sendSnapshot(tab.Snapshot())
	})
	out.sendSnapshot(tab.Snapshot())
	log.Infow("WebSocket 连接已建立", "session", tab.ID(), "account", tab.Account())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame tabFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			out.sendError("Format pesan tidak valid")
			continue
		}

		switch frame.Type {
		case frameMessage:
			epoch, ok := tab.TryBegin()
			if !ok {
				out.sendError("Pesan sebelumnya masih diproses")
				continue
			}
			req := service.ChatRequest{
				Content:    frame.Content,
				Model:      frame.Model,
				Persona:    frame.Persona,
				Attachment: frame.Attachment,
				Epoch:      &epoch,
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer tab.Finish()
				h.chatService.Reply(ctx, tab, req, out)
				out.sendSnapshot(tab.Snapshot())
			}()

		case frameVisibility:
			if frame.Hidden {
				tab.Hidden()
			} else {
				tab.Visible()
			}

		case frameLogin:
			claims, ok := middleware.VerifyAccessToken(c, h.jwtManager, h.blacklist, frame.Token)
			if !ok {
				out.sendError("Sesi berakhir, silakan login kembali")
				continue
			}
			out.sendSnapshot(tab.SwitchAccount(ctx, claims.Email))

		case frameLogout:
			out.sendSnapshot(tab.SwitchAccount(ctx, guest))

		case frameClear:
			tab.ClearHistory(ctx)
			out.sendSnapshot(tab.Snapshot())

		case frameHistory:
			out.sendJSON(gin.H{"type": "history", "messages": tab.History(ctx)})

		default:
			out.sendError("Jenis pesan tidak dikenal")
		}
	}
}

// connWriter 串行化对同一连接的写入。gorilla/websocket 不允许并发写。
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *connWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

func (w *connWriter) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("序列化 WebSocket 帧失败", err)
		return
	}
	if err := w.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Debugw("写入 WebSocket 失败", "error", err)
	}
}

func (w *connWriter) sendError(message string) {
	w.sendJSON(gin.H{"error": message})
}

func (w *connWriter) sendSnapshot(s service.Snapshot) {
	w.sendJSON(gin.H{
		"type":     "snapshot",
		"account":  s.Account,
		"session":  s.Session,
		"messages": s.Messages,
	})
}
