package model

import (
	"fmt"
	"time"
)

// LocalTime 以 "YYYY-MM-DD HH:MM:SS" 的本地时间格式输出到 JSON。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

// MarshalJSON 实现 json.Marshaler 接口，零值输出为 null。
func (t LocalTime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", tt.Local().Format(timeFormat))), nil
}
