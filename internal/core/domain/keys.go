package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	TempBlockPrefix = "blocked:"
	ViolationPrefix = "violations:"
	RateLimitPrefix = "rl:"
	QuotaPrefix     = "quota:"
)

func TempBlockKey(ip string) string {
	return TempBlockPrefix + ip
}

func ViolationKey(ip string) string {
	return ViolationPrefix + ip
}

func RateLimitKey(prefix, identity string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	return fmt.Sprintf("%s%s:%s", RateLimitPrefix, prefix, identity)
}

func QuotaKey(userID string, category Category, period time.Duration) string {
	return fmt.Sprintf("%s%s:%s:%d", QuotaPrefix, userID, category, int64(period/time.Second))
}

func LoginFailureKey(ip string) string {
	return "security:login_failed:" + ip
}

func ForbiddenAccessKey(userID string) string {
	return "security:forbidden:" + userID
}
