package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/haolipeng/trident_firewall/pkg/metrics"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/sirupsen/logrus"
)

// maxLineSize 单行流量记录的最大长度
const maxLineSize = 1024 * 1024

// TrafficFileSource 从JSON Lines文件读取数据包描述，每行一个属性对象：
//
//	{"protocol":"tcp","port":80,"src_ip":"192.168.1.10"}
type TrafficFileSource struct {
	reader   io.Reader
	closer   io.Closer
	output   chan *types.Packet
	filter   cel.Program
	done     chan struct{}
	stats    *metrics.SourceMetrics
	filename string
}

// NewTrafficFileSource 打开流量文件，filename 为 "-" 时读取标准输入
func NewTrafficFileSource(filename string, bufferSize int) (*TrafficFileSource, error) {
	if filename == "-" {
		return NewTrafficSource(os.Stdin, "stdin", bufferSize), nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open traffic file %s: %w", filename, err)
	}

	s := NewTrafficSource(f, filename, bufferSize)
	s.closer = f
	return s, nil
}

// NewTrafficSource 从任意reader读取流量记录
func NewTrafficSource(r io.Reader, name string, bufferSize int) *TrafficFileSource {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &TrafficFileSource{
		reader:   r,
		output:   make(chan *types.Packet, bufferSize),
		done:     make(chan struct{}),
		stats:    &metrics.SourceMetrics{},
		filename: name,
	}
}

// SetFilter 设置CEL过滤表达式，表达式中通过 packet 访问属性，例如
// packet.protocol == "tcp" && packet.port < 1024。空字符串表示不过滤
func (s *TrafficFileSource) SetFilter(filter string) error {
	if strings.TrimSpace(filter) == "" {
		s.filter = nil
		return nil
	}

	env, err := cel.NewEnv(
		cel.Variable("packet", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(filter)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invalid filter %q: %w", filter, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return fmt.Errorf("filter %q must return bool, got %v", filter, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to build filter program: %w", err)
	}

	logrus.Debugf("Setting traffic filter: %s", filter)
	s.filter = prg
	return nil
}

func (s *TrafficFileSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	logrus.Infof("Started reading traffic from: %s", s.filename)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(s.done)
		defer close(s.output)
		defer func() {
			if s.closer != nil {
				s.closer.Close()
			}
		}()

		var packetCount int64
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			s.stats.AddBytesProcessed(uint64(len(scanner.Bytes())))

			var attrs types.Attributes
			if err := json.Unmarshal([]byte(line), &attrs); err != nil {
				s.stats.IncrementErrorCount()
				logrus.WithFields(logrus.Fields{
					"source": s.filename,
					"line":   lineNo,
					"error":  err.Error(),
				}).Warn("skip malformed traffic record")
				continue
			}

			if !s.accept(attrs) {
				continue
			}

			packetCount++
			s.stats.IncrementPacketsRead()
			packet := &types.Packet{
				ID:         fmt.Sprintf("pkt-%d", packetCount),
				Timestamp:  time.Now().UnixNano(),
				Attributes: attrs,
			}

			select {
			case s.output <- packet:
			case <-ctx.Done():
				logrus.Info("Stopping traffic reading due to context cancellation")
				return
			}
		}

		if err := scanner.Err(); err != nil {
			s.stats.IncrementErrorCount()
			logrus.Errorf("Error reading traffic from %s: %v", s.filename, err)
			return
		}
		logrus.WithField("packets", packetCount).Infof("Reached end of traffic file: %s", s.filename)
	}()

	return nil
}

// accept 判断数据包是否通过过滤表达式，求值出错（如引用了不存在的属性）视为不通过
func (s *TrafficFileSource) accept(attrs types.Attributes) bool {
	if s.filter == nil {
		return true
	}

	input := make(map[string]interface{}, len(attrs))
	for name, v := range attrs {
		input[name] = v.Interface()
	}

	out, _, err := s.filter.Eval(map[string]interface{}{"packet": input})
	if err != nil {
		logrus.Debugf("Filter evaluation failed: %v", err)
		return false
	}
	passed, ok := out.Value().(bool)
	return ok && passed
}

func (s *TrafficFileSource) Output() <-chan *types.Packet {
	return s.output
}

func (s *TrafficFileSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

func (s *TrafficFileSource) WaitForCompletion() <-chan struct{} {
	return s.done
}
