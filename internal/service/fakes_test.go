package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"guptaai/internal/config"
	"guptaai/internal/model"
	"guptaai/pkg/llm"
	"guptaai/pkg/tasks"

	"gorm.io/gorm"
)

// fakeUserRepo 是内存中的 UserRepository。
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID uint
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) Create(u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	u.ID = r.nextID
	cp := *u
	r.users[u.Email] = &cp
	return nil
}

func (r *fakeUserRepo) FindByEmail(email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Update(u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.Email] = &cp
	return nil
}

type fakeBlacklist struct {
	mu     sync.Mutex
	tokens map[string]time.Duration
}

func (b *fakeBlacklist) Add(_ context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens == nil {
		b.tokens = make(map[string]time.Duration)
	}
	b.tokens[token] = ttl
	return nil
}

func (b *fakeBlacklist) Contains(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tokens[token]
	return ok, nil
}

type fakePersonaRepo struct {
	overrides map[string]string
	err       error
}

func (r *fakePersonaRepo) GetOverride(_ context.Context, id string) (string, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	p, ok := r.overrides[id]
	return p, ok, nil
}

func (r *fakePersonaRepo) SetOverride(_ context.Context, id, prompt string) error {
	if r.err != nil {
		return r.err
	}
	if r.overrides == nil {
		r.overrides = make(map[string]string)
	}
	r.overrides[id] = prompt
	return nil
}

// fakeLLM 记录请求，并按预设返回分块或错误。
type fakeLLM struct {
	mu sync.Mutex

	chunks    []string
	streamErr error
	// beforeReply 在返回分块前调用，用于模拟请求期间发生的事件。
	beforeReply func()

	transcript    string
	transcribeErr error

	lastModel      string
	lastMessages   []llm.Message
	lastAudioModel string
	lastAudio      string
	streamCalls    int
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, model string, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.mu.Lock()
	f.streamCalls++
	f.lastModel = model
	f.lastMessages = append([]llm.Message(nil), messages...)
	chunks, err, hook := f.chunks, f.streamErr, f.beforeReply
	f.mu.Unlock()

	if hook != nil {
		hook()
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

func (f *fakeLLM) Transcribe(_ context.Context, model string, audio llm.Audio) (string, error) {
	data, _ := io.ReadAll(audio.Reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAudioModel = model
	f.lastAudio = string(data)
	return f.transcript, f.transcribeErr
}

// frameRecorder 记录写给前端的帧。
type frameRecorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *frameRecorder) WriteMessage(_ int, data []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, string(data))
	r.mu.Unlock()
	return nil
}

func (r *frameRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

type fakePublisher struct {
	tasks []tasks.OCRLogTask
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, task tasks.OCRLogTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

var errUpstream = errors.New("upstream unavailable")

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Model:              "llama-3.1-8b-instant",
		FallbackModel:      "llama-3.3-70b-versatile",
		TranscriptionModel: "whisper-large-v3",
		Models: []config.ModelOption{
			{Value: "llama-3.1-8b-instant"},
			{Value: "llama-3.3-70b-versatile"},
			{Value: "whisper-large-v3"},
			{Value: "whisper-large-v3-turbo"},
		},
	}
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		AutoClearAfter:   120 * time.Second,
		ApologyText:      "Maaf, terjadi kesalahan saat menghubungi GuptaAI.",
		AudioApologyText: "Maaf, terjadi kesalahan saat memproses audio.",
		DefaultPersona:   "default",
		Personas: []config.Persona{
			{ID: "default", Name: "GuptaAI", Prompt: "sopan"},
			{ID: "santai", Name: "Santai", Prompt: "santai saja"},
		},
		CannedAnswers: []config.CannedAnswer{
			{Contains: "gede valendra", Answer: "Gede Valendra adalah pembuat GuptaAI."},
		},
	}
}
