package logging

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SensitiveKeys 日志中需要脱敏的键
var SensitiveKeys = []string{"password", "token", "secret"}

var sensitivePatterns = compileSensitivePatterns(SensitiveKeys)

func compileSensitivePatterns(keys []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(keys))
	for _, key := range keys {
		patterns = append(patterns, regexp.MustCompile(`(?i)(`+regexp.QuoteMeta(key)+`)\s*=\s*[^,\s]+`))
	}
	return patterns
}

// RedactSensitiveData 把 password=xxx 这类片段替换为 password=[REDACTED]，键名保留原大小写
func RedactSensitiveData(message string) string {
	for _, pattern := range sensitivePatterns {
		message = pattern.ReplaceAllString(message, "${1}=[REDACTED]")
	}
	return message
}

// RedactHook 在日志输出前脱敏消息和字符串字段
type RedactHook struct{}

func NewRedactHook() *RedactHook {
	return &RedactHook{}
}

func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RedactHook) Fire(entry *logrus.Entry) error {
	entry.Message = RedactSensitiveData(entry.Message)
	for key, value := range entry.Data {
		if isSensitiveKey(key) {
			entry.Data[key] = "[REDACTED]"
			continue
		}
		if s, ok := value.(string); ok {
			entry.Data[key] = RedactSensitiveData(s)
		}
	}
	return nil
}

func isSensitiveKey(key string) bool {
	for _, k := range SensitiveKeys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}

// Recorder 在内存中保存 "[LEVEL] message" 形式的日志，limit 大于0时只保留最近的 limit 条
type Recorder struct {
	mu    sync.Mutex
	limit int
	lines []string
}

func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (r *Recorder) Fire(entry *logrus.Entry) error {
	r.Record(strings.ToUpper(entry.Level.String()), entry.Message)
	return nil
}

// Record 直接记录一条日志，消息同样经过脱敏
func (r *Recorder) Record(level, message string) {
	line := "[" + level + "] " + RedactSensitiveData(message)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if r.limit > 0 && len(r.lines) > r.limit {
		r.lines = r.lines[len(r.lines)-r.limit:]
	}
}

// Logs 返回已记录日志的副本
func (r *Recorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
