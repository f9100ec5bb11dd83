package utils

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"time"
)

// GenerateToken 生成随机token
func GenerateToken(length int) string {
	if length <= 0 {
		length = 24
	}

	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// 降级方案：使用时间戳
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	return base64.URLEncoding.EncodeToString(bytes)
}
