package metrics

import (
	"sync/atomic"
	"time"
)

type ProcessorMetrics struct {
	ProcessedPackets uint64
	DroppedPackets   uint64
	ProcessingTime   uint64 // 纳秒
	AllowedPackets   uint64 // 放行计数
	DeniedPackets    uint64 // 拒绝计数
	DenyRuleMatched  uint64 // 拒绝规则命中计数
	AllowRuleMatched uint64 // 放行规则命中计数
	DefaultDenied    uint64 // 默认策略拒绝计数
}

func (m *ProcessorMetrics) IncrementProcessed() {
	atomic.AddUint64(&m.ProcessedPackets, 1)
}

func (m *ProcessorMetrics) IncrementDropped() {
	atomic.AddUint64(&m.DroppedPackets, 1)
}

func (m *ProcessorMetrics) IncrementAllowed() {
	atomic.AddUint64(&m.AllowedPackets, 1)
}

func (m *ProcessorMetrics) IncrementDenied() {
	atomic.AddUint64(&m.DeniedPackets, 1)
}

func (m *ProcessorMetrics) IncrementDenyRuleMatched() {
	atomic.AddUint64(&m.DenyRuleMatched, 1)
}

func (m *ProcessorMetrics) IncrementAllowRuleMatched() {
	atomic.AddUint64(&m.AllowRuleMatched, 1)
}

func (m *ProcessorMetrics) IncrementDefaultDenied() {
	atomic.AddUint64(&m.DefaultDenied, 1)
}

func (m *ProcessorMetrics) AddProcessingTime(duration time.Duration) {
	atomic.AddUint64(&m.ProcessingTime, uint64(duration.Nanoseconds()))
}

// Snapshot 原子地读取当前计数
func (m *ProcessorMetrics) Snapshot() ProcessorMetrics {
	return ProcessorMetrics{
		ProcessedPackets: atomic.LoadUint64(&m.ProcessedPackets),
		DroppedPackets:   atomic.LoadUint64(&m.DroppedPackets),
		ProcessingTime:   atomic.LoadUint64(&m.ProcessingTime),
		AllowedPackets:   atomic.LoadUint64(&m.AllowedPackets),
		DeniedPackets:    atomic.LoadUint64(&m.DeniedPackets),
		DenyRuleMatched:  atomic.LoadUint64(&m.DenyRuleMatched),
		AllowRuleMatched: atomic.LoadUint64(&m.AllowRuleMatched),
		DefaultDenied:    atomic.LoadUint64(&m.DefaultDenied),
	}
}

type SourceMetrics struct {
	PacketsRead    uint64
	BytesProcessed uint64
	ErrorCount     uint64
}

func (m *SourceMetrics) IncrementErrorCount() {
	atomic.AddUint64(&m.ErrorCount, 1)
}

// IncrementPacketsRead 增加读取的数据包计数
func (m *SourceMetrics) IncrementPacketsRead() {
	atomic.AddUint64(&m.PacketsRead, 1)
}

// AddBytesProcessed 增加处理的字节数
func (m *SourceMetrics) AddBytesProcessed(bytes uint64) {
	atomic.AddUint64(&m.BytesProcessed, bytes)
}

type SinkMetrics struct {
	PacketsWritten uint64
	WriteErrors    uint64
	BytesWritten   uint64
}

func (m *SinkMetrics) IncrementWritten(bytes int) {
	atomic.AddUint64(&m.PacketsWritten, 1)
	atomic.AddUint64(&m.BytesWritten, uint64(bytes))
}

func (m *SinkMetrics) IncrementWriteErrors() {
	atomic.AddUint64(&m.WriteErrors, 1)
}

// 性能指标收集
func (m *ProcessorMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"processed_packets":  atomic.LoadUint64(&m.ProcessedPackets),
		"dropped_packets":    atomic.LoadUint64(&m.DroppedPackets),
		"processing_time":    atomic.LoadUint64(&m.ProcessingTime),
		"allowed_packets":    atomic.LoadUint64(&m.AllowedPackets),
		"denied_packets":     atomic.LoadUint64(&m.DeniedPackets),
		"deny_rule_matched":  atomic.LoadUint64(&m.DenyRuleMatched),
		"allow_rule_matched": atomic.LoadUint64(&m.AllowRuleMatched),
		"default_denied":     atomic.LoadUint64(&m.DefaultDenied),
		"avg_process_time": float64(atomic.LoadUint64(&m.ProcessingTime)) /
			float64(atomic.LoadUint64(&m.ProcessedPackets)+1),
	}
}
