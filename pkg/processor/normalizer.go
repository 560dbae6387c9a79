package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/sirupsen/logrus"
)

// AttributeNormalizer 在规则匹配前把指定的字符串属性转为小写。
// 匹配器本身区分大小写，协议名这类属性需要先在这里规范化
type AttributeNormalizer struct {
	workers    int
	attributes []string
}

// NewAttributeNormalizer 创建属性规范化处理器，未指定属性时默认规范化 protocol
func NewAttributeNormalizer(workers int, attributes ...string) *AttributeNormalizer {
	if len(attributes) == 0 {
		attributes = []string{ruleEngine.AttrProtocol}
	}
	return &AttributeNormalizer{
		workers:    workers,
		attributes: attributes,
	}
}

func (p *AttributeNormalizer) Stage() types.Stage {
	return types.StageAttributeNormalization
}

func (p *AttributeNormalizer) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	if err := p.CheckReady(); err != nil {
		return nil, err
	}

	out := make(chan *types.Packet, 1000)

	logrus.Debugf("Starting AttributeNormalizer with %d workers", p.workers)

	// 所有worker退出后再关闭输出通道
	var workers sync.WaitGroup
	workers.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(workerID int) {
			defer workers.Done()
			for {
				select {
				case <-ctx.Done():
					logrus.Debugf("Worker %d received context cancellation", workerID)
					return
				case packet, ok := <-in:
					if !ok {
						logrus.Debugf("Worker %d: input channel closed", workerID)
						return
					}

					if packet == nil {
						logrus.Warnf("Worker %d received nil packet", workerID)
						continue
					}

					p.normalize(packet)

					select {
					case out <- packet:
					case <-ctx.Done():
						logrus.Warnf("Worker %d: context cancelled while sending packet", workerID)
						return
					}
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		workers.Wait()
		close(out)
	}()

	return out, nil
}

func (p *AttributeNormalizer) normalize(packet *types.Packet) {
	for _, name := range p.attributes {
		v, ok := packet.Attributes[name]
		if !ok {
			continue
		}
		if s, isStr := v.Str(); isStr {
			packet.Attributes[name] = types.StringValue(strings.ToLower(s))
		}
	}
}

func (p *AttributeNormalizer) Name() string {
	return "AttributeNormalizer"
}

func (p *AttributeNormalizer) CheckReady() error {
	if p.workers <= 0 {
		return fmt.Errorf("invalid worker count: %d", p.workers)
	}
	return nil
}
