package pipeline

import (
	"context"
	"sync"

	"github.com/haolipeng/trident_firewall/pkg/metrics"
	"github.com/haolipeng/trident_firewall/pkg/types"
)

// Source 定义数据源接口
type Source interface {
	// Start 启动数据源读取，读取goroutine自行登记到wg
	Start(ctx context.Context, wg *sync.WaitGroup) error
	// Output 返回数据输出channel，数据读完后关闭
	Output() <-chan *types.Packet
	// SetFilter 设置数据包过滤表达式
	SetFilter(filter string) error
}

// Processor 定义数据处理器接口
type Processor interface {
	// Process 处理数据包，处理goroutine自行登记到wg
	Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error)
	// Stage 返回处理器所属阶段
	Stage() types.Stage
	// Name 返回处理器的名称
	Name() string
	// CheckReady 检查处理器是否就绪
	CheckReady() error
}

// Sink 定义数据输出接口
type Sink interface {
	// Consume 消费处理后的数据包
	Consume(ctx context.Context, in <-chan *types.Packet) error
	// Ready 返回就绪信号channel
	Ready() <-chan struct{}
}

// Pipeline 定义处理流水线接口
type Pipeline interface {
	// AddProcessor 添加处理器
	AddProcessor(processor Processor) error
	// SetSource 设置数据源
	SetSource(source Source)
	// SetSink 设置数据输出
	SetSink(sink Sink)
	// Start 启动流水线
	Start(ctx context.Context) error
	// Done 数据全部流入sink后关闭
	Done() <-chan struct{}
	// Stop 停止流水线
	Stop() error
	// GetMetrics 获取处理器指标
	GetMetrics() map[string]*metrics.ProcessorMetrics
	// Status 返回流水线状态
	Status() string
}
