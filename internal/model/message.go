// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GuestIdentity 是未登录时使用的账号身份。单独出现时只表示"访客"，
// 实际存储前要用 GuestFor 绑定到具体设备。
const GuestIdentity = "guest"

// guestDeviceSep 不会出现在合法邮箱中，所以设备访客身份不会与注册账号冲突，
// 也不会被 "guest" 的 key 前缀匹配到。
const guestDeviceSep = "#"

// Role 是消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem 只出现在发给模型的请求中，不会被存储。
	RoleSystem Role = "system"
)

// Message 代表对话中的一轮消息。追加后不可修改。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Time 为 Unix 毫秒时间戳，与前端 Date.now() 一致。
	Time int64 `json:"time"`
}

// Valid 判断消息是否可以被存储。
func (m Message) Valid() bool {
	return (m.Role == RoleUser || m.Role == RoleAssistant) && m.Content != ""
}

// Conversation 是某个账号身份下按追加顺序排列的消息序列。
type Conversation []Message

// IsEmpty 判断对话是否为空。
func (c Conversation) IsEmpty() bool {
	return len(c) == 0
}

// Clone 返回一份独立的副本，调用方修改副本不会影响原对话。
func (c Conversation) Clone() Conversation {
	if c == nil {
		return Conversation{}
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// Append 返回追加了 msg 的新对话，不会复用调用方的底层数组。
func (c Conversation) Append(msg Message) Conversation {
	out := make(Conversation, len(c), len(c)+1)
	copy(out, c)
	return append(out, msg)
}

// Last 返回最后一条消息。
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// storedMessage 用于宽松解析历史数据：time 可能缺失或是浮点数。
type storedMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
	Time    json.Number `json:"time"`
}

// DecodeConversation 解析存储中的 JSON。文档本身损坏时返回错误；
// 单条格式不正确的消息（未知角色、空内容）会被丢弃，缺失的 time 置为 0。
func DecodeConversation(data []byte) (Conversation, error) {
	var raw []storedMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	conv := make(Conversation, 0, len(raw))
	for _, r := range raw {
		content, ok := r.Content.(string)
		if !ok {
			continue
		}
		msg := Message{Role: Role(r.Role), Content: content}
		if r.Time != "" {
			if ms, err := r.Time.Int64(); err == nil {
				msg.Time = ms
			} else if f, err := r.Time.Float64(); err == nil {
				msg.Time = int64(f)
			}
		}
		if !msg.Valid() {
			continue
		}
		conv = append(conv, msg)
	}
	return conv, nil
}

// NormalizeIdentity 统一账号身份：去掉空白并转为小写，空值视为 guest。
func NormalizeIdentity(email string) string {
	id := strings.ToLower(strings.TrimSpace(email))
	if id == "" {
		return GuestIdentity
	}
	return id
}

// IsGuest 判断身份是否为访客，包括绑定了设备的访客。
func IsGuest(identity string) bool {
	id := NormalizeIdentity(identity)
	return id == GuestIdentity || strings.HasPrefix(id, GuestIdentity+guestDeviceSep)
}

// GuestFor 返回某个浏览器设备专属的访客身份，不同设备的访客互相看不到对话。
func GuestFor(device string) string {
	device = strings.ToLower(strings.TrimSpace(device))
	if device == "" {
		return GuestIdentity
	}
	return GuestIdentity + guestDeviceSep + device
}
