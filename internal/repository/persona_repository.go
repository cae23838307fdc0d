package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const personaOverridesKey = "persona:overrides"

// PersonaRepository 保存管理员对人设提示词的覆盖。
type PersonaRepository interface {
	GetOverride(ctx context.Context, personaID string) (string, bool, error)
	SetOverride(ctx context.Context, personaID, prompt string) error
}

type redisPersonaRepository struct {
	redisClient *redis.Client
}

// NewPersonaRepository 创建基于 Redis hash 的人设覆盖存储。
func NewPersonaRepository(redisClient *redis.Client) PersonaRepository {
	return &redisPersonaRepository{redisClient: redisClient}
}

func (r *redisPersonaRepository) GetOverride(ctx context.Context, personaID string) (string, bool, error) {
	prompt, err := r.redisClient.HGet(ctx, personaOverridesKey, personaID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get persona override: %w", err)
	}
	return prompt, true, nil
}

func (r *redisPersonaRepository) SetOverride(ctx context.Context, personaID, prompt string) error {
	if err := r.redisClient.HSet(ctx, personaOverridesKey, personaID, prompt).Err(); err != nil {
		return fmt.Errorf("failed to set persona override: %w", err)
	}
	return nil
}
