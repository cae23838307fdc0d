package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"guptaai/internal/config"
	"guptaai/internal/middleware"
	"guptaai/internal/repository"
	"guptaai/internal/service"
	"guptaai/internal/visibility"
	"guptaai/pkg/database"
	"guptaai/pkg/llm"
	"guptaai/pkg/tasks"
	"guptaai/pkg/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminEmail = "root@gupta.id"

type stubLLM struct {
	mu     sync.Mutex
	chunks []string
	err    error
	// release 不为 nil 时，流式回复会等待它被关闭
	release chan struct{}
}

func (s *stubLLM) StreamChatMessages(ctx context.Context, _ string, _ []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	s.mu.Lock()
	chunks, err, release := s.chunks, s.err, s.release
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubLLM) Transcribe(_ context.Context, _ string, audio llm.Audio) (string, error) {
	data, _ := io.ReadAll(audio.Reader)
	return "transkrip " + string(data), nil
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) ExtractText(_ context.Context, r io.Reader, _, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	_, _ = io.Copy(io.Discard, r)
	return s.text, nil
}

type stubPublisher struct {
	mu    sync.Mutex
	tasks []tasks.OCRLogTask
	err   error
}

func (p *stubPublisher) Publish(_ context.Context, task tasks.OCRLogTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

var errTika = errors.New("tika unavailable")

// testEnv 用真实的服务、内存存储、SQLite 和 miniredis 组装整个 HTTP 面。
type testEnv struct {
	router    *gin.Engine
	clock     *visibility.FakeClock
	llm       *stubLLM
	extractor *stubExtractor
	publisher *stubPublisher
	tabs      *repository.MemoryStore
	archive   *repository.MemoryStore
	tabSvc    service.TabService
	jwt       *token.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	llmCfg := config.LLMConfig{
		Model:              "llama-3.1-8b-instant",
		FallbackModel:      "llama-3.3-70b-versatile",
		TranscriptionModel: "whisper-large-v3",
		Models: []config.ModelOption{
			{Value: "llama-3.1-8b-instant", Label: "Llama 3.1 8B Instant"},
			{Value: "whisper-large-v3", Label: "Whisper Large v3 (audio)"},
		},
	}
	chatCfg := config.ChatConfig{
		AutoClearAfter: 120 * time.Second,
		ApologyText:    "Maaf, terjadi kesalahan saat menghubungi GuptaAI.",
		DefaultPersona: "default",
		Personas: []config.Persona{
			{ID: "default", Name: "GuptaAI", Prompt: "sopan"},
		},
	}

	env := &testEnv{
		clock:     visibility.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		llm:       &stubLLM{chunks: []string{"Halo", " juga"}},
		extractor: &stubExtractor{text: "teks hasil ocr"},
		publisher: &stubPublisher{},
		tabs:      repository.NewMemoryStore(0),
		archive:   repository.NewMemoryStore(1 << 10),
		jwt:       token.NewJWTManager("test-secret", 1, 1),
	}

	blacklist := repository.NewTokenBlacklistRepository(rdb)
	userSvc := service.NewUserService(repository.NewUserRepository(db), blacklist, env.jwt, []string{adminEmail})
	personaSvc := service.NewPersonaService(chatCfg, repository.NewPersonaRepository(rdb))
	env.tabSvc = service.NewTabService(env.tabs, env.archive, env.clock, chatCfg.AutoClearAfter)
	t.Cleanup(env.tabSvc.CloseAll)

	env.router = gin.New()
	env.router.Use(middleware.RequestLogger(), gin.Recovery())
	RegisterRoutes(env.router, Dependencies{
		UserService:    userSvc,
		HistoryService: service.NewHistoryService(env.archive, env.tabs),
		TabService:     env.tabSvc,
		ChatService:    service.NewChatService(env.llm, personaSvc, llmCfg, chatCfg),
		OCRService:     service.NewOCRService(env.extractor, nil, env.publisher),
		PersonaService: personaSvc,
		JWTManager:     env.jwt,
		Blacklist:      blacklist,
		LLMConfig:      llmCfg,
		ChatConfig:     chatCfg,
		MaxUploadBytes: 1 << 20,
	})
	return env
}

// do 发送 JSON 请求，tok 非空时带上 Bearer 头。
func (e *testEnv) do(method, path string, body interface{}, tok string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// signup 注册并返回 access token。
func (e *testEnv) signup(t *testing.T, name, email, password string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/signup", gin.H{"name": name, "email": email, "password": password}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signup %s: status %d, body %s", email, w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	return resp.Data.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}
