package service

import (
	"context"
	"errors"
	"strings"

	"guptaai/internal/config"
	"guptaai/internal/repository"
	"guptaai/pkg/log"
)

var ErrUnknownPersona = errors.New("unknown persona")

// PersonaService 解析人设的系统提示词，管理员可以覆盖配置中的提示词。
type PersonaService interface {
	List(ctx context.Context) []config.Persona
	Prompt(ctx context.Context, personaID string) string
	SetOverride(ctx context.Context, personaID, prompt string) error
}

type personaService struct {
	cfg  config.ChatConfig
	repo repository.PersonaRepository
}

// NewPersonaService 创建一个新的 PersonaService 实例。
func NewPersonaService(cfg config.ChatConfig, repo repository.PersonaRepository) PersonaService {
	return &personaService{cfg: cfg, repo: repo}
}

// List 返回应用了覆盖之后的人设列表。
func (s *personaService) List(ctx context.Context) []config.Persona {
	out := make([]config.Persona, 0, len(s.cfg.Personas))
	for _, p := range s.cfg.Personas {
		p.Prompt = s.resolve(ctx, p)
		out = append(out, p)
	}
	return out
}

// Prompt 返回人设的提示词，未知的 ID 回退到默认人设。
func (s *personaService) Prompt(ctx context.Context, personaID string) string {
	p, ok := s.cfg.PersonaByID(personaID)
	if !ok {
		p, ok = s.cfg.PersonaByID(s.cfg.DefaultPersona)
	}
	if !ok {
		return ""
	}
	return s.resolve(ctx, p)
}

func (s *personaService) resolve(ctx context.Context, p config.Persona) string {
	override, ok, err := s.repo.GetOverride(ctx, p.ID)
	if err != nil {
		log.Warnw("读取人设覆盖失败，使用配置中的提示词", "persona", p.ID, "error", err)
		return p.Prompt
	}
	if ok {
		return override
	}
	return p.Prompt
}

func (s *personaService) SetOverride(ctx context.Context, personaID, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrMissingFields
	}
	if _, ok := s.cfg.PersonaByID(personaID); !ok {
		return ErrUnknownPersona
	}
	if err := s.repo.SetOverride(ctx, personaID, prompt); err != nil {
		return err
	}
	log.Infow("人设提示词已更新", "persona", personaID)
	return nil
}
