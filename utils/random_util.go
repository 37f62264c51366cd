package utils

import (
	"github.com/google/uuid"
)

// GetUUID 生成随机uuid，用作会话id和连接id
func GetUUID() string {
	return uuid.NewString()
}

// GetShortID uuid的前8位，用于日志中区分连接
func GetShortID() string {
	return GetUUID()[:8]
}
