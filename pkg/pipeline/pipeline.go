package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haolipeng/trident_firewall/pkg/metrics"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	sinkReadyTimeout = 5 * time.Second
	stopTimeout      = 30 * time.Second
)

// metricsReporter 暴露判定计数的处理器
type metricsReporter interface {
	Metrics() *metrics.ProcessorMetrics
}

type pipeline struct {
	source     Source
	processors []Processor
	sink       Sink
	running    bool
	mu         sync.Mutex
	errChan    chan error
	status     string
	startTime  time.Time
	cancel     context.CancelFunc
	done       chan struct{}  // sink退出后关闭
	wg         sync.WaitGroup // 用于跟踪所有goroutine
}

func NewPipeline() Pipeline {
	return &pipeline{
		processors: make([]Processor, 0),
		errChan:    make(chan error, 1),
		status:     "initialized",
		done:       make(chan struct{}),
	}
}

func (p *pipeline) AddProcessor(processor Processor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("cannot add processor while pipeline is running")
	}

	p.processors = append(p.processors, processor)
	// 按Stage排序处理器
	sort.SliceStable(p.processors, func(i, j int) bool {
		return p.processors[i].Stage() < p.processors[j].Stage()
	})

	return nil
}

func (p *pipeline) SetSource(source Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

func (p *pipeline) SetSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *pipeline) Start(parent context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return types.NewPipelineError("start", fmt.Errorf("pipeline already running"))
	}
	if p.source == nil || p.sink == nil {
		return types.NewPipelineError("start", fmt.Errorf("source and sink must be set"))
	}

	// 1. 首先检查所有处理器是否就绪
	for _, processor := range p.processors {
		if err := processor.CheckReady(); err != nil {
			logrus.Errorf("Processor %s not ready: %v", processor.Name(), err)
			return types.NewPipelineError("start", fmt.Errorf("processor %s not ready: %w", processor.Name(), err))
		}
	}
	logrus.Debug("All processors are ready")

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.wg = sync.WaitGroup{}
	p.errChan = make(chan error, 100)
	p.done = make(chan struct{})
	p.startTime = time.Now()
	p.status = "starting"

	logrus.Info("Starting pipeline")

	// 启动错误处理goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handleErrors(ctx)
	}()

	// 2. 前一个stage阶段处理器的处理结果直接传递给下一个stage阶段的处理器
	input := p.source.Output()
	for _, proc := range p.processors {
		logrus.Debugf("Starting processor %s at stage: %v", proc.Name(), proc.Stage())
		out, err := proc.Process(ctx, input, &p.wg)
		if err != nil {
			logrus.Errorf("Failed to start processor at stage %v: %v", proc.Stage(), err)
			cancel()
			return types.NewPipelineError("start", fmt.Errorf("failed to start processor %s: %w", proc.Name(), err))
		}
		input = out
	}
	logrus.Info("All processors have started successfully")

	// 3. 处理器启动后，再启动sink
	p.wg.Add(1)
	go func(in <-chan *types.Packet, done chan struct{}) {
		defer p.wg.Done()
		defer close(done)
		if err := p.sink.Consume(ctx, in); err != nil {
			logrus.Errorf("Sink error: %v", err)
			p.reportError(fmt.Errorf("sink error: %w", err))
		}
	}(input, p.done)

	// 4. 等待sink就绪
	select {
	case <-p.sink.Ready():
		logrus.Debug("Sink is ready")
	case <-time.After(sinkReadyTimeout):
		cancel()
		return types.NewPipelineError("start", fmt.Errorf("timeout waiting for sink to be ready"))
	}
	logrus.Info("Sink have started successfully")

	// 5. 最后启动数据源，开始数据流转
	if err := p.source.Start(ctx, &p.wg); err != nil {
		logrus.Errorf("Failed to start source: %v", err)
		cancel()
		return types.NewPipelineError("start", fmt.Errorf("failed to start source: %w", err))
	}
	logrus.Info("Data Source have started successfully")

	p.running = true
	p.status = "running"
	logrus.Info("Pipeline is now running")
	return nil
}

func (p *pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	p.status = "stopping"
	logrus.Info("Pipeline stopping...")

	// 1. 先设置状态，再通知所有goroutine退出
	p.running = false
	p.cancel()

	// 2. 等待所有处理器完成
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("All processors completed gracefully")
	case <-time.After(stopTimeout):
		logrus.Warn("Timeout waiting for processors to complete")
	}

	// 3. 清理处理器资源
	for _, processor := range p.processors {
		if cleaner, ok := processor.(interface{ Cleanup() error }); ok {
			if err := cleaner.Cleanup(); err != nil {
				logrus.Errorf("Error cleaning up processor %s: %v", processor.Name(), err)
			}
		}
	}

	p.status = "stopped"
	logrus.WithField("uptime", time.Since(p.startTime).String()).Info("Pipeline stopped and cleaned up")
	return nil
}

// reportError 非阻塞地上报错误，错误通道已满时只记录日志
func (p *pipeline) reportError(err error) {
	select {
	case p.errChan <- err:
	default:
		logrus.Errorf("Pipeline error dropped: %v", err)
	}
}

func (p *pipeline) handleErrors(ctx context.Context) {
	logrus.Debug("Starting error handler")
	for {
		select {
		case err := <-p.errChan:
			logrus.Errorf("Pipeline error: %v", err)
		case <-ctx.Done():
			logrus.Debug("Context cancelled, stopping error handler")
			return
		}
	}
}

// GetStats 流水线运行状态统计
func (p *pipeline) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"status":     p.status,
		"uptime":     time.Since(p.startTime).String(),
		"processors": len(p.processors),
	}
}

// GetMetrics 收集各处理器自身维护的指标
func (p *pipeline) GetMetrics() map[string]*metrics.ProcessorMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]*metrics.ProcessorMetrics)
	for _, proc := range p.processors {
		if r, ok := proc.(metricsReporter); ok {
			out[proc.Name()] = r.Metrics()
		}
	}
	return out
}

func (p *pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
