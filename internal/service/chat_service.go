package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"guptaai/internal/config"
	"guptaai/internal/model"
	"guptaai/pkg/llm"
	"guptaai/pkg/log"

	"github.com/gorilla/websocket"
)

const (
	AttachmentAudio = "audio"
	AttachmentFile  = "file"

	turboTranscriptionModel = "whisper-large-v3-turbo"
)

// Attachment 是随消息一起发送的文件。
type Attachment struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Kind string `json:"kind"`
	Data []byte `json:"data"`
}

// ChatRequest 是前端一次发送的内容。
type ChatRequest struct {
	Content    string      `json:"content"`
	Model      string      `json:"model"`
	Persona    string      `json:"persona"`
	Attachment *Attachment `json:"attachment,omitempty"`
	// Epoch 是请求发出时目标的 epoch，为 nil 时取 Reply 开始时的值。
	Epoch *uint64 `json:"-"`
}

// Conversant 是一轮对话写入的目标，由 Tab 实现。
// AppendAt 在 epoch 已经变化（切换账号、被清空、标签页关闭）时丢弃消息并返回 false。
type Conversant interface {
	Conversation() model.Conversation
	Epoch() uint64
	AppendAt(ctx context.Context, epoch uint64, msg model.Message) bool
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Reply 处理一次发送：转写音频、追加用户消息、调用模型并追加回复。
	// 上游失败时追加固定的致歉消息，不返回错误。out 可以为 nil。
	Reply(ctx context.Context, target Conversant, req ChatRequest, out llm.MessageWriter)
}

type chatService struct {
	llmClient llm.Client
	personas  PersonaService
	llmCfg    config.LLMConfig
	chatCfg   config.ChatConfig
	now       func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(llmClient llm.Client, personas PersonaService, llmCfg config.LLMConfig, chatCfg config.ChatConfig) ChatService {
	return &chatService{
		llmClient: llmClient,
		personas:  personas,
		llmCfg:    llmCfg,
		chatCfg:   chatCfg,
		now:       time.Now,
	}
}

func (s *chatService) Reply(ctx context.Context, target Conversant, req ChatRequest, out llm.MessageWriter) {
	epoch := target.Epoch()
	if req.Epoch != nil {
		epoch = *req.Epoch
	}
	text := strings.TrimSpace(req.Content)

	// 1. 音频附件先转写
	if att := req.Attachment; att != nil && att.Kind == AttachmentAudio {
		transcript, err := s.llmClient.Transcribe(ctx, s.transcriptionModel(req.Model), llm.Audio{
			Name:   att.Name,
			Reader: bytes.NewReader(att.Data),
		})
		if err != nil {
			log.Errorw("音频转写失败", "error", err)
			s.appendAssistant(ctx, target, epoch, s.chatCfg.AudioApologyText)
			return
		}
		if text != "" {
			text = text + "\n\nTranskrip audio:\n" + transcript
		} else {
			text = transcript
		}
	}

	// 2. 普通附件只附上文件名标记
	if att := req.Attachment; att != nil && att.Kind == AttachmentFile {
		text = strings.TrimSpace(text + "\n\n" + fileMarker(att))
	}

	if text == "" {
		return
	}

	history := target.Conversation()
	if !target.AppendAt(ctx, epoch, s.message(model.RoleUser, text)) {
		return
	}

	// 3. 本地固定回答
	if answer, ok := s.localAnswer(text); ok {
		s.appendAssistant(ctx, target, epoch, answer)
		sendCompletion(out)
		return
	}

	// 4. 调用模型，流式分块转发给前端
	answer := &strings.Builder{}
	interceptor := &wsWriterInterceptor{
		conn:       out,
		writer:     answer,
		shouldStop: func() bool { return target.Epoch() != epoch },
	}
	messages := s.composeMessages(s.personas.Prompt(ctx, req.Persona), history, text)
	err := s.llmClient.StreamChatMessages(ctx, s.completionModel(req.Model), messages, nil, interceptor)
	if err != nil || answer.Len() == 0 {
		log.Errorw("调用模型失败", "model", req.Model, "error", err)
		s.appendAssistant(ctx, target, epoch, s.chatCfg.ApologyText)
		return
	}
	s.appendAssistant(ctx, target, epoch, answer.String())
	sendCompletion(out)
}

func (s *chatService) message(role model.Role, content string) model.Message {
	return model.Message{Role: role, Content: content, Time: s.now().UnixMilli()}
}

func (s *chatService) appendAssistant(ctx context.Context, target Conversant, epoch uint64, content string) {
	if !target.AppendAt(ctx, epoch, s.message(model.RoleAssistant, content)) {
		log.Infow("丢弃过期的回复", "epoch", epoch)
	}
}

// transcriptionModel 只有显式选择 turbo 时使用 turbo，其余情况使用配置的模型。
func (s *chatService) transcriptionModel(selected string) string {
	if selected == turboTranscriptionModel {
		return turboTranscriptionModel
	}
	return s.llmCfg.TranscriptionModel
}

// completionModel 把语音模型和未知模型换成可用的文本模型。
func (s *chatService) completionModel(selected string) string {
	if selected == "" {
		return s.llmCfg.Model
	}
	if strings.HasPrefix(selected, "whisper-") {
		return s.llmCfg.FallbackModel
	}
	if len(s.llmCfg.Models) > 0 {
		for _, m := range s.llmCfg.Models {
			if m.Value == selected {
				return selected
			}
		}
		return s.llmCfg.Model
	}
	return selected
}

func (s *chatService) localAnswer(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, c := range s.chatCfg.CannedAnswers {
		if c.Contains != "" && strings.Contains(lower, strings.ToLower(c.Contains)) {
			return c.Answer, true
		}
	}
	return "", false
}

func (s *chatService) composeMessages(systemMsg string, history model.Conversation, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if systemMsg != "" {
		msgs = append(msgs, llm.Message{Role: string(model.RoleSystem), Content: systemMsg})
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: string(model.RoleUser), Content: userInput})
	return msgs
}

func fileMarker(att *Attachment) string {
	mime := att.MIME
	if mime == "" {
		mime = "unknown"
	}
	return "[File terlampir: " + att.Name + " (" + mime + ")]"
}

// wsWriterInterceptor 捕获模型输出的分块，并以 {"chunk":"..."} 转发给前端。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.writer.Write(data)
	if w.conn == nil || (w.shouldStop != nil && w.shouldStop()) {
		// 已经过期的回复不再下发
		return nil
	}
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(out llm.MessageWriter) {
	if out == nil {
		return
	}
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = out.WriteMessage(websocket.TextMessage, b)
}
