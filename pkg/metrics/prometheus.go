package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 规则引擎的Prometheus指标，每个实例使用独立的Registry，
// 便于测试中创建多个引擎
type Collector struct {
	registry *prometheus.Registry

	Decisions  *prometheus.CounterVec // 按判定结果和命中类型计数
	RuleCount  *prometheus.GaugeVec   // 按动作统计规则库中的规则数
	RuleErrors prometheus.Counter     // 被拒绝的格式错误规则
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trident",
			Subsystem: "firewall",
			Name:      "decisions_total",
			Help:      "Packet decisions by verdict and match type",
		}, []string{"verdict", "match"}),
		RuleCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trident",
			Subsystem: "firewall",
			Name:      "rules",
			Help:      "Rules in the rule store by action",
		}, []string{"action"}),
		RuleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trident",
			Subsystem: "firewall",
			Name:      "malformed_rules_total",
			Help:      "Rules rejected as malformed",
		}),
	}
}

// Registry 返回用于 /metrics 暴露的Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveDecision(verdict, match string) {
	c.Decisions.WithLabelValues(verdict, match).Inc()
}

func (c *Collector) ObserveRuleAdded(action string) {
	c.RuleCount.WithLabelValues(action).Inc()
}

func (c *Collector) ObserveMalformedRule() {
	c.RuleErrors.Inc()
}
