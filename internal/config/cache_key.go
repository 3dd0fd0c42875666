package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PasswordFailuresKey counts wrong exam passwords for one student inside the
// brute-force window.
func (r *CacheKeyStruct) PasswordFailuresKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:password_failures", studentID, examID)
}

// StartRateLimitKey buckets exam start requests per caller and minute.
func (r *CacheKeyStruct) StartRateLimitKey(caller string) string {
	return fmt.Sprintf("ratelimit:start:%s", caller)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
