// Package pipeline 定义了 OCR 日志从投递到落库的流程。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/pkg/log"
	"guptaai/pkg/tasks"
)

// Publisher 投递 OCR 日志任务。Kafka 开启时由 kafka.Producer 实现，否则使用 DirectPublisher。
type Publisher interface {
	Publish(ctx context.Context, task tasks.OCRLogTask) error
}

// Processor 把 OCR 日志任务写入数据库。
type Processor struct {
	ocrLogRepo repository.OCRLogRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(ocrLogRepo repository.OCRLogRepository) *Processor {
	return &Processor{ocrLogRepo: ocrLogRepo}
}

// Process 是任务处理的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.OCRLogTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := &model.OCRLog{
		Email: model.NormalizeIdentity(task.Email),
		Text:  task.Text,
		Time:  task.Time,
	}
	if entry.Time == 0 {
		entry.Time = time.Now().UnixMilli()
	}
	if err := p.ocrLogRepo.Create(entry); err != nil {
		return fmt.Errorf("保存 OCR 日志失败: %w", err)
	}
	log.Infow("OCR 日志已保存", "id", task.ID, "email", entry.Email, "chars", len(entry.Text))
	return nil
}

// DirectPublisher 不经过消息队列，同步调用 Processor。
type DirectPublisher struct {
	processor *Processor
}

// NewDirectPublisher 创建同步投递器。
func NewDirectPublisher(processor *Processor) *DirectPublisher {
	return &DirectPublisher{processor: processor}
}

func (d *DirectPublisher) Publish(ctx context.Context, task tasks.OCRLogTask) error {
	return d.processor.Process(ctx, task)
}
