// Package hash 提供密码哈希与校验。
package hash

import (
	"errors"

	"guptaai/pkg/log"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 生成密码哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPasswordHash 比较明文密码与已存储的 bcrypt 哈希。
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			// 非密码不匹配的异常（例如哈希格式损坏）仍按校验失败处理
			log.Warnf("CheckPasswordHash: unexpected bcrypt error: %v", err)
		}
		return false
	}
	return true
}
