// Package llm 封装了对 OpenAI 兼容接口（Groq）的调用：流式对话补全和语音转写。
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"guptaai/internal/config"

	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息调用聊天接口，并将流式分块写入 writer。model 为空时使用配置中的默认模型。
	StreamChatMessages(ctx context.Context, model string, messages []Message, gen *GenerationParams, writer MessageWriter) error
	// Transcribe 把一段音频转写为文本。
	Transcribe(ctx context.Context, model string, audio Audio) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Audio 是待转写的音频，Name 需要带扩展名，接口据此判断格式。
type Audio struct {
	Name   string
	Reader io.Reader
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type groqClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient 创建指向 cfg.BaseURL 的客户端。
func NewClient(cfg config.LLMConfig) Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &groqClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (c *groqClient) StreamChatMessages(ctx context.Context, model string, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	if model == "" {
		model = c.cfg.Model
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	c.applyGeneration(&req, gen)

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := writer.WriteMessage(websocket.TextMessage, []byte(resp.Choices[0].Delta.Content)); err != nil {
			return fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
}

// applyGeneration 传参优先，其次使用配置中的非零值。
func (c *groqClient) applyGeneration(req *openai.ChatCompletionRequest, gen *GenerationParams) {
	if gen != nil {
		if gen.Temperature != nil {
			req.Temperature = float32(*gen.Temperature)
		}
		if gen.TopP != nil {
			req.TopP = float32(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			req.MaxTokens = *gen.MaxTokens
		}
		return
	}
	if c.cfg.Generation.Temperature != 0 {
		req.Temperature = float32(c.cfg.Generation.Temperature)
	}
	if c.cfg.Generation.TopP != 0 {
		req.TopP = float32(c.cfg.Generation.TopP)
	}
	if c.cfg.Generation.MaxTokens != 0 {
		req.MaxTokens = c.cfg.Generation.MaxTokens
	}
}

func (c *groqClient) Transcribe(ctx context.Context, model string, audio Audio) (string, error) {
	if model == "" {
		model = c.cfg.TranscriptionModel
	}
	name := audio.Name
	if name == "" {
		name = "audio.webm"
	}
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: name,
		Reader:   audio.Reader,
		Format:   openai.AudioResponseFormatJSON,
		Language: c.cfg.TranscriptionLang,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call transcription api: %w", err)
	}
	return resp.Text, nil
}
