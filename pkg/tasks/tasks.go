// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// OCRLogTask 是一条待持久化的 OCR 识别记录。
type OCRLogTask struct {
	// ID 同时作为 Kafka 消息的 key 和重试计数的 key。
	ID    string `json:"id"`
	Email string `json:"email"`
	Text  string `json:"text"`
	Time  int64  `json:"time"`
}
