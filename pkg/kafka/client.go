// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guptaai/internal/config"
	"guptaai/pkg/log"
	"guptaai/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是一条消息处理失败后允许的最大重试次数。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.OCRLogTask) error
}

// Producer 把 OCR 日志任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个 OCR 日志任务到 Kafka。
func (p *Producer) Publish(ctx context.Context, task tasks.OCRLogTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.ID), Value: taskBytes})
}

// Close 关闭底层 writer，刷新未发送的消息。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费 OCR 日志任务。失败次数记在 Redis 中，达到上限后提交 offset 放弃该消息。
type Consumer struct {
	reader      *kafka.Reader
	processor   TaskProcessor
	redisClient *redis.Client
}

// NewConsumer 创建一个消费者，调用 Run 开始消费。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, redisClient *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, redisClient: redisClient}
}

// Run 阻塞消费，直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			time.Sleep(time.Second)
			continue
		}
		if c.handle(ctx, m.Value) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// handle 处理一条消息并返回是否应当提交 offset。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.OCRLogTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.ID)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理 OCR 日志任务失败: ID=%s, Error: %v", task.ID, err)
		attempts, incErr := c.redisClient.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		_ = c.redisClient.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("OCR 日志任务多次失败(>=%d)，提交 offset 终止重试: ID=%s", maxAttempts, task.ID)
			return true
		}
		return false
	}

	_ = c.redisClient.Del(ctx, attemptsKey).Err()
	return true
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
