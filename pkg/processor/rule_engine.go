package processor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/haolipeng/trident_firewall/pkg/metrics"
	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/sirupsen/logrus"
)

var ErrDuplicateRuleID = errors.New("duplicate rule id")

// RuleEngine 规则引擎：有序规则库 + 匹配器 + 判定函数
//
// 判定顺序：
// 1. 按规则库顺序检查拒绝规则，命中即拒绝
// 2. 按规则库顺序检查放行规则，命中即放行
// 3. 都未命中时走默认策略：拒绝
type RuleEngine struct {
	mu        sync.RWMutex       // 读写锁，判定时读，添加规则时写
	rules     []*ruleEngine.Rule // 规则库，只追加，已存入的规则不再修改
	ids       map[string]int     // 规则ID到规则库下标
	metrics   *metrics.ProcessorMetrics
	collector *metrics.Collector
}

// NewRuleEngine 使用初始规则创建规则引擎，任意规则不合法则返回错误
func NewRuleEngine(rules []*ruleEngine.Rule) (*RuleEngine, error) {
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
	}

	r := &RuleEngine{
		rules:     make([]*ruleEngine.Rule, 0, len(rules)),
		ids:       make(map[string]int, len(rules)),
		metrics:   &metrics.ProcessorMetrics{},
		collector: metrics.NewCollector(),
	}
	for _, rule := range rules {
		if _, err := r.AddRule(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewRuleEngineProcessor 从规则目录和内联规则创建规则引擎
func NewRuleEngineProcessor(ruleDirectory string, inline []ruleEngine.RuleSpec) (*RuleEngine, error) {
	// 创建规则加载器
	loader := ruleEngine.NewRuleLoader()

	if ruleDirectory != "" {
		if err := loader.LoadRulesFromDirectory(ruleDirectory); err != nil {
			return nil, fmt.Errorf("load rules failed: %w", err)
		}
	}
	if err := loader.LoadRuleSpecs(inline); err != nil {
		return nil, fmt.Errorf("load inline rules failed: %w", err)
	}

	return NewRuleEngine(loader.GetAllRules())
}

// AddRule 追加结构化规则，返回规则ID。规则不合法或ID重复时规则库保持不变。
// 内容相同的规则可以重复添加，未指定ID的规则会分配新ID
func (r *RuleEngine) AddRule(rule *ruleEngine.Rule) (string, error) {
	if err := rule.Validate(); err != nil {
		r.collector.ObserveMalformedRule()
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("rejected malformed rule")
		return "", err
	}

	// 存入副本，调用方之后修改原规则不影响规则库
	stored := rule.Clone()
	ruleEngine.AssignID(stored)

	r.mu.Lock()
	if _, exists := r.ids[stored.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateRuleID, stored.ID)
	}
	r.ids[stored.ID] = len(r.rules)
	r.rules = append(r.rules, stored)
	r.mu.Unlock()

	r.collector.ObserveRuleAdded(string(stored.Action))
	logrus.WithFields(logrus.Fields{
		"rule_id":  stored.ID,
		"action":   stored.Action,
		"criteria": stored.Criteria.String(),
	}).Info("rule added")

	return stored.ID, nil
}

// AddRuleString 解析并追加文本规则 "ACTION PROTOCOL PORT"
func (r *RuleEngine) AddRuleString(raw string) (string, error) {
	rule, err := ruleEngine.ParseRule(raw)
	if err != nil {
		r.collector.ObserveMalformedRule()
		logrus.WithFields(logrus.Fields{
			"rule":  raw,
			"error": err.Error(),
		}).Warn("rejected malformed rule")
		return "", err
	}
	return r.AddRule(rule)
}

// snapshot 在读锁下取规则库快照。规则库只追加，
// 截断容量后的切片不会被后续追加写到
func (r *RuleEngine) snapshot() []*ruleEngine.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.rules)
	return r.rules[:n:n]
}

// Rules 按插入顺序遍历规则。每次遍历重新取快照，产出的是规则副本
func (r *RuleEngine) Rules() iter.Seq[ruleEngine.Rule] {
	return func(yield func(ruleEngine.Rule) bool) {
		for _, rule := range r.snapshot() {
			if !yield(*rule.Clone()) {
				return
			}
		}
	}
}

// GetRule 按ID查找规则，返回副本
func (r *RuleEngine) GetRule(id string) (ruleEngine.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.ids[id]
	if !ok {
		return ruleEngine.Rule{}, false
	}
	return *r.rules[i].Clone(), true
}

// Len 规则数量
func (r *RuleEngine) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// firstMatch 按规则库顺序查找第一条指定动作且匹配的规则
func firstMatch(rules []*ruleEngine.Rule, action ruleEngine.Action, packet types.AttributeGetter) (*ruleEngine.Rule, bool) {
	for _, rule := range rules {
		if rule.Action == action && Match(rule, packet) {
			return rule, true
		}
	}
	return nil, false
}

// Decide 对数据包做出判定，返回判定结果及命中的规则
func (r *RuleEngine) Decide(packet types.AttributeGetter) types.Decision {
	start := time.Now()
	rules := r.snapshot()

	var decision types.Decision
	if rule, ok := firstMatch(rules, ruleEngine.ActionDeny, packet); ok {
		// 拒绝规则优先级最高，不会被任何放行规则覆盖
		decision = types.Decision{Verdict: types.VerdictDenied, Match: types.MatchDenyRule, RuleID: rule.ID}
	} else if rule, ok := firstMatch(rules, ruleEngine.ActionAllow, packet); ok {
		decision = types.Decision{Verdict: types.VerdictAllowed, Match: types.MatchAllowRule, RuleID: rule.ID}
	} else {
		// 默认拒绝：没有明确放行就不放行
		decision = types.Decision{Verdict: types.VerdictDenied, Match: types.MatchDefault}
	}

	r.record(decision, time.Since(start))
	return decision
}

// CheckPacket 返回数据包的判定结果
func (r *RuleEngine) CheckPacket(packet types.AttributeGetter) types.Verdict {
	return r.Decide(packet).Verdict
}

// IsAllowed 按协议和端口判定，协议统一转为小写
func (r *RuleEngine) IsAllowed(protocol string, port int) bool {
	packet := types.Attributes{
		ruleEngine.AttrProtocol: types.StringValue(strings.ToLower(protocol)),
		ruleEngine.AttrPort:     types.IntValue(int64(port)),
	}
	return r.CheckPacket(packet).Allowed()
}

func (r *RuleEngine) record(d types.Decision, elapsed time.Duration) {
	r.metrics.IncrementProcessed()
	r.metrics.AddProcessingTime(elapsed)

	switch d.Match {
	case types.MatchDenyRule:
		r.metrics.IncrementDenyRuleMatched()
	case types.MatchAllowRule:
		r.metrics.IncrementAllowRuleMatched()
	case types.MatchDefault:
		r.metrics.IncrementDefaultDenied()
	}
	if d.Verdict.Allowed() {
		r.metrics.IncrementAllowed()
	} else {
		r.metrics.IncrementDenied()
	}
	r.collector.ObserveDecision(d.Verdict.String(), d.Match.String())

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithFields(logrus.Fields{
			"verdict": d.Verdict.String(),
			"match":   d.Match.String(),
			"rule_id": d.RuleID,
		}).Debug("packet decided")
	}
}

// Process 流水线处理函数：对每个数据包做判定并记录到 packet.Decision
func (r *RuleEngine) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)

		for packet := range in {
			if packet == nil {
				r.metrics.IncrementDropped()
				continue
			}

			decision := r.Decide(packet)
			packet.Decision = &decision

			select {
			case out <- packet:
			case <-ctx.Done():
				logrus.Debug("RuleEngine: context cancelled while sending packet")
				return
			}
		}
	}()

	return out, nil
}

func (r *RuleEngine) Stage() types.Stage {
	return types.StageRuleEngineDetection
}

func (r *RuleEngine) Name() string {
	return "RuleEngine"
}

func (r *RuleEngine) CheckReady() error {
	if r.metrics == nil || r.collector == nil {
		return types.ErrProcessorNotReady
	}
	return nil
}

// Metrics 返回判定计数
func (r *RuleEngine) Metrics() *metrics.ProcessorMetrics {
	return r.metrics
}

// Collector 返回Prometheus指标
func (r *RuleEngine) Collector() *metrics.Collector {
	return r.collector
}
