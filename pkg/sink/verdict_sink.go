package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/haolipeng/trident_firewall/pkg/metrics"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/sirupsen/logrus"
)

// VerdictRecord 判定结果文件中的一行
type VerdictRecord struct {
	ID         string           `json:"id"`
	Attributes types.Attributes `json:"attributes"`
	Verdict    types.Verdict    `json:"verdict"`
	Match      types.MatchType  `json:"match"`
	RuleID     string           `json:"rule_id,omitempty"`
}

// VerdictFileSink 把判定结果按JSON Lines写入文件，拒绝的数据包同时记录告警日志
type VerdictFileSink struct {
	filename string
	file     io.WriteCloser
	writer   *bufio.Writer
	stats    *metrics.SinkMetrics
	mu       sync.Mutex
	ready    chan struct{}
}

// NewVerdictFileSink 创建判定结果输出，filename 为 "-" 时写到标准输出
func NewVerdictFileSink(filename string) (*VerdictFileSink, error) {
	if filename == "-" {
		return NewVerdictSink(nopCloser{os.Stdout}, "stdout"), nil
	}

	f, err := os.Create(filename)
	if err != nil {
		logrus.Errorf("Failed to create verdict file: %v", err)
		return nil, fmt.Errorf("failed to create verdict file %s: %w", filename, err)
	}
	logrus.Infof("Created verdict file: %s", filename)
	return NewVerdictSink(f, filename), nil
}

// NewVerdictSink 把判定结果写到任意writer
func NewVerdictSink(w io.WriteCloser, name string) *VerdictFileSink {
	return &VerdictFileSink{
		filename: name,
		file:     w,
		writer:   bufio.NewWriter(w),
		stats:    &metrics.SinkMetrics{},
		ready:    make(chan struct{}),
	}
}

func (s *VerdictFileSink) writeVerdict(packet *types.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if packet.Decision == nil {
		return fmt.Errorf("packet %s has no decision", packet.ID)
	}

	record := VerdictRecord{
		ID:         packet.ID,
		Attributes: packet.Attributes,
		Verdict:    packet.Decision.Verdict,
		Match:      packet.Decision.Match,
		RuleID:     packet.Decision.RuleID,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	s.stats.IncrementWritten(len(data))

	// 被拒绝的数据包记录告警日志
	if !record.Verdict.Allowed() {
		fields := logrus.Fields{
			"packet_id": packet.ID,
			"match":     record.Match.String(),
		}
		if record.RuleID != "" {
			fields["rule_id"] = record.RuleID
		}
		for name, v := range packet.Attributes {
			fields[name] = v.Interface()
		}
		logrus.WithFields(fields).Warn("数据包被拒绝")
	}
	return nil
}

func (s *VerdictFileSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	logrus.Info("Starting verdict sink consumer")
	// 在程序结束时统一刷新并关闭文件
	defer func() {
		if err := s.Close(); err != nil {
			logrus.Errorf("Failed to close verdict file: %v", err)
		}
		logrus.Info("Verdict sink consumer stopped")
	}()

	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Verdict sink received context cancellation")
			return nil
		case packet, ok := <-in:
			if !ok {
				logrus.Debug("Verdict sink input channel closed")
				return nil
			}
			if packet == nil {
				continue
			}

			if err := s.writeVerdict(packet); err != nil {
				s.stats.IncrementWriteErrors()
				logrus.Errorf("Failed to write verdict: %v", err)
				continue
			}
		}
	}
}

func (s *VerdictFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (s *VerdictFileSink) Ready() <-chan struct{} {
	return s.ready
}

func (s *VerdictFileSink) GetStats() *metrics.SinkMetrics {
	return s.stats
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
