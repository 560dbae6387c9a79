package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCriteria(t *testing.T, raw map[string]interface{}) ruleEngine.Criteria {
	t.Helper()
	criteria, err := ruleEngine.CriteriaFromMap(raw)
	require.NoError(t, err)
	return criteria
}

func mustAttrs(t *testing.T, raw map[string]interface{}) types.Attributes {
	t.Helper()
	attrs, err := types.NewAttributes(raw)
	require.NoError(t, err)
	return attrs
}

// newScenarioEngine 结构化规则场景：两条放行，一条拒绝
func newScenarioEngine(t *testing.T) *RuleEngine {
	t.Helper()
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	_, err = engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionAllow, mustCriteria(t, map[string]interface{}{"src_ip": "192.168.1.10", "port": 80})))
	require.NoError(t, err)
	_, err = engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionAllow, mustCriteria(t, map[string]interface{}{"src_ip": "192.168.1.20", "port": 443})))
	require.NoError(t, err)
	_, err = engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionDeny, mustCriteria(t, map[string]interface{}{"src_ip": "10.0.0.5", "port": 22})))
	require.NoError(t, err)
	return engine
}

// 测试匹配器：所有条件都要精确相等
func TestMatch(t *testing.T) {
	rule := ruleEngine.NewRule(ruleEngine.ActionAllow, mustCriteria(t, map[string]interface{}{"protocol": "tcp", "port": 80}))

	testCases := []struct {
		name   string
		packet map[string]interface{}
		want   bool
	}{
		{name: "完全匹配", packet: map[string]interface{}{"protocol": "tcp", "port": 80}, want: true},
		{name: "多余属性不影响匹配", packet: map[string]interface{}{"protocol": "tcp", "port": 80, "src_ip": "1.2.3.4"}, want: true},
		{name: "端口不同", packet: map[string]interface{}{"protocol": "tcp", "port": 81}, want: false},
		{name: "协议不同", packet: map[string]interface{}{"protocol": "udp", "port": 80}, want: false},
		{name: "缺少属性", packet: map[string]interface{}{"protocol": "tcp"}, want: false},
		{name: "空数据包", packet: map[string]interface{}{}, want: false},
		{name: "字符串区分大小写", packet: map[string]interface{}{"protocol": "TCP", "port": 80}, want: false},
		{name: "字符串和整数不相等", packet: map[string]interface{}{"protocol": "tcp", "port": "80"}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(rule, mustAttrs(t, tc.packet)))
		})
	}

	assert.False(t, Match(ruleEngine.NewRule(ruleEngine.ActionAllow, nil), types.Attributes{}), "空条件的规则不匹配任何数据包")
}

// 测试文本规则端到端场景
func TestIsAllowedScenario(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	for _, raw := range []string{"ALLOW tcp 80", "DENY udp 53"} {
		_, err := engine.AddRuleString(raw)
		require.NoError(t, err)
	}

	assert.True(t, engine.IsAllowed("tcp", 80))
	assert.False(t, engine.IsAllowed("udp", 53))
	assert.False(t, engine.IsAllowed("tcp", 22), "没有匹配规则时默认拒绝")
	assert.True(t, engine.IsAllowed("TCP", 80), "查询协议会转为小写")
}

// 测试结构化规则端到端场景
func TestCheckPacketScenario(t *testing.T) {
	engine := newScenarioEngine(t)

	traffic := []struct {
		packet map[string]interface{}
		want   types.Verdict
		match  types.MatchType
	}{
		{packet: map[string]interface{}{"src_ip": "192.168.1.10", "port": 80}, want: types.VerdictAllowed, match: types.MatchAllowRule},
		{packet: map[string]interface{}{"src_ip": "10.0.0.5", "port": 22}, want: types.VerdictDenied, match: types.MatchDenyRule},
		{packet: map[string]interface{}{"src_ip": "192.168.1.20", "port": 443}, want: types.VerdictAllowed, match: types.MatchAllowRule},
		{packet: map[string]interface{}{"src_ip": "172.16.0.1", "port": 21}, want: types.VerdictDenied, match: types.MatchDefault},
		{packet: map[string]interface{}{"src_ip": "192.168.1.100", "port": 8080}, want: types.VerdictDenied, match: types.MatchDefault},
	}

	for _, tc := range traffic {
		t.Run(fmt.Sprintf("%v", tc.packet), func(t *testing.T) {
			attrs := mustAttrs(t, tc.packet)
			assert.Equal(t, tc.want, engine.CheckPacket(attrs))

			decision := engine.Decide(attrs)
			assert.Equal(t, tc.match, decision.Match)
			if tc.match == types.MatchDefault {
				assert.Empty(t, decision.RuleID)
			} else {
				assert.NotEmpty(t, decision.RuleID)
			}
		})
	}
}

// 测试拒绝规则优先：无论有多少放行规则同时匹配
func TestDenyPrecedence(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := engine.AddRuleString("ALLOW tcp 22")
		require.NoError(t, err)
	}
	denyID, err := engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionDeny, mustCriteria(t, map[string]interface{}{"port": 22})))
	require.NoError(t, err)
	_, err = engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionAllow, mustCriteria(t, map[string]interface{}{"port": 22})))
	require.NoError(t, err)

	decision := engine.Decide(mustAttrs(t, map[string]interface{}{"protocol": "tcp", "port": 22}))
	assert.Equal(t, types.VerdictDenied, decision.Verdict)
	assert.Equal(t, types.MatchDenyRule, decision.Match)
	assert.Equal(t, denyID, decision.RuleID)
}

// 测试同类规则中按规则库顺序取第一条
func TestFirstMatchWithinClass(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	firstID, err := engine.AddRuleString("ALLOW tcp 443")
	require.NoError(t, err)
	_, err = engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionAllow, mustCriteria(t, map[string]interface{}{"port": 443})))
	require.NoError(t, err)

	decision := engine.Decide(mustAttrs(t, map[string]interface{}{"protocol": "tcp", "port": 443}))
	assert.Equal(t, firstID, decision.RuleID)
}

// 测试动态添加规则在下一次判定时生效
func TestDynamicRuleAddition(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	_, err = engine.AddRuleString("ALLOW udp 8080")
	require.NoError(t, err)
	before := engine.IsAllowed("udp", 8080)
	assert.True(t, before)

	_, err = engine.AddRuleString("DENY udp 8080")
	require.NoError(t, err)
	assert.False(t, engine.IsAllowed("udp", 8080))
	assert.True(t, before, "之前的判定结果不受影响")
}

// 测试格式错误的规则被拒绝且规则库不变
func TestMalformedRuleRejected(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)
	_, err = engine.AddRuleString("ALLOW tcp 80")
	require.NoError(t, err)

	for _, raw := range []string{"ALLOW tcp", "PERMIT tcp 80", "ALLOW tcp eighty"} {
		t.Run(raw, func(t *testing.T) {
			id, err := engine.AddRuleString(raw)
			assert.Empty(t, id)
			assert.ErrorIs(t, err, ruleEngine.ErrMalformedRule)

			var malformed *ruleEngine.MalformedRuleError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, raw, malformed.Raw)
			assert.Equal(t, 1, engine.Len(), "规则库不应改变")
		})
	}

	_, err = engine.AddRule(ruleEngine.NewRule(ruleEngine.ActionAllow, nil))
	assert.ErrorIs(t, err, ruleEngine.ErrMalformedRule)
	assert.Equal(t, 1, engine.Len())
	assert.Equal(t, float64(4), testutil.ToFloat64(engine.Collector().RuleErrors))

	_, err = NewRuleEngine([]*ruleEngine.Rule{ruleEngine.NewRule(ruleEngine.Action("LOG"), nil)})
	assert.ErrorIs(t, err, ruleEngine.ErrMalformedRule)
}

// 测试判定幂等：规则库不变时相同数据包结果相同
func TestIdempotentDecision(t *testing.T) {
	engine := newScenarioEngine(t)
	packets := []types.Attributes{
		mustAttrs(t, map[string]interface{}{"src_ip": "192.168.1.10", "port": 80}),
		mustAttrs(t, map[string]interface{}{"src_ip": "10.0.0.5", "port": 22}),
		mustAttrs(t, map[string]interface{}{"src_ip": "8.8.8.8", "port": 53}),
	}

	for _, p := range packets {
		first := engine.Decide(p)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, engine.Decide(p))
		}
	}
}

// 测试规则遍历：按插入顺序、可重复遍历、只读
func TestRulesIterator(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	raws := []string{"ALLOW tcp 80", "DENY udp 53", "ALLOW tcp 80"}
	for _, raw := range raws {
		_, err := engine.AddRuleString(raw)
		require.NoError(t, err)
	}

	collect := func() []string {
		var out []string
		for rule := range engine.Rules() {
			out = append(out, rule.String())
		}
		return out
	}

	want := []string{"ALLOW protocol=tcp port=80", "DENY protocol=udp port=53", "ALLOW protocol=tcp port=80"}
	assert.Equal(t, want, collect(), "相同规则添加两次应保留两条")
	assert.Equal(t, want, collect(), "遍历可以重复进行")

	// 修改遍历得到的副本不影响规则库
	for rule := range engine.Rules() {
		rule.Criteria[0].Value = types.StringValue("udp")
		rule.Action = ruleEngine.ActionDeny
	}
	assert.Equal(t, want, collect())
	assert.True(t, engine.IsAllowed("tcp", 80))

	// 提前结束遍历
	count := 0
	for range engine.Rules() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

// 测试添加规则时存入的是副本
func TestAddRuleStoresCopy(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	rule := ruleEngine.NewRule(ruleEngine.ActionAllow, mustCriteria(t, map[string]interface{}{"port": 80}))
	_, err = engine.AddRule(rule)
	require.NoError(t, err)

	rule.Criteria[0].Value = types.IntValue(81)
	assert.Equal(t, types.VerdictAllowed, engine.CheckPacket(mustAttrs(t, map[string]interface{}{"port": 80})))
	assert.Equal(t, types.VerdictDenied, engine.CheckPacket(mustAttrs(t, map[string]interface{}{"port": 81})))
}

// 测试并发判定和添加规则
func TestConcurrentAddAndDecide(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)
	_, err = engine.AddRuleString("ALLOW tcp 80")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.True(t, engine.IsAllowed("tcp", 80))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := engine.AddRuleString(fmt.Sprintf("ALLOW udp %d", 10000+worker*100+j))
				assert.NoError(t, err)
				for range engine.Rules() {
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 201, engine.Len())
}

// 测试规则引擎作为流水线处理器
func TestRuleEngineProcess(t *testing.T) {
	engine := newScenarioEngine(t)

	packets := []*types.Packet{
		{ID: "pkt-1", Attributes: mustAttrs(t, map[string]interface{}{"src_ip": "192.168.1.10", "port": 80})},
		{ID: "pkt-2", Attributes: mustAttrs(t, map[string]interface{}{"src_ip": "10.0.0.5", "port": 22})},
		nil,
		{ID: "pkt-3", Attributes: mustAttrs(t, map[string]interface{}{"src_ip": "172.16.0.1", "port": 21})},
	}

	in := make(chan *types.Packet, len(packets))
	for _, p := range packets {
		in <- p
	}
	close(in)

	var wg sync.WaitGroup
	out, err := engine.Process(context.Background(), in, &wg)
	require.NoError(t, err)

	var results []*types.Packet
	for p := range out {
		results = append(results, p)
	}
	wg.Wait()

	require.Len(t, results, 3)
	assert.Equal(t, types.VerdictAllowed, results[0].Decision.Verdict)
	assert.Equal(t, types.VerdictDenied, results[1].Decision.Verdict)
	assert.Equal(t, types.MatchDefault, results[2].Decision.Match)

	stats := engine.Metrics().GetStats()
	assert.Equal(t, uint64(3), stats["processed_packets"])
	assert.Equal(t, uint64(1), stats["dropped_packets"])
	assert.Equal(t, uint64(1), stats["allowed_packets"])
	assert.Equal(t, uint64(2), stats["denied_packets"])
	assert.Equal(t, uint64(1), stats["default_denied"])
	assert.Equal(t, float64(1), testutil.ToFloat64(engine.Collector().Decisions.WithLabelValues("DENIED", "deny_rule")))
	assert.NoError(t, engine.CheckReady())
}

func TestNewRuleEngineProcessor(t *testing.T) {
	engine, err := NewRuleEngineProcessor("../../rules", []ruleEngine.RuleSpec{{Text: "ALLOW udp 123"}})
	require.NoError(t, err)
	assert.Equal(t, 7, engine.Len())

	assert.True(t, engine.IsAllowed("tcp", 443))
	assert.True(t, engine.IsAllowed("udp", 123))
	assert.False(t, engine.IsAllowed("udp", 53))
	assert.False(t, engine.IsAllowed("tcp", 23))
	assert.Equal(t, types.VerdictDenied, engine.CheckPacket(mustAttrs(t, map[string]interface{}{"src_ip": "10.0.0.5", "port": 22})))

	_, err = NewRuleEngineProcessor("", []ruleEngine.RuleSpec{{Text: "ALLOW tcp"}})
	assert.ErrorIs(t, err, ruleEngine.ErrMalformedRule)

	_, err = NewRuleEngineProcessor("../../not_exist_dir", nil)
	assert.Error(t, err)
}

// 测试按ID查找规则以及重复ID
func TestGetRuleAndDuplicateID(t *testing.T) {
	engine, err := NewRuleEngine(nil)
	require.NoError(t, err)

	rule := ruleEngine.NewRule(ruleEngine.ActionDeny, mustCriteria(t, map[string]interface{}{"src_ip": "10.0.0.5", "port": 22}))
	rule.ID = "ssh_blacklist"
	id, err := engine.AddRule(rule)
	require.NoError(t, err)
	assert.Equal(t, "ssh_blacklist", id)

	got, ok := engine.GetRule("ssh_blacklist")
	require.True(t, ok)
	assert.Equal(t, "DENY port=22 src_ip=10.0.0.5", got.String(), "CriteriaFromMap 按键名排序")

	_, ok = engine.GetRule("missing")
	assert.False(t, ok)

	_, err = engine.AddRule(rule)
	assert.ErrorIs(t, err, ErrDuplicateRuleID)
	assert.NotErrorIs(t, err, ruleEngine.ErrMalformedRule)
	assert.Equal(t, 1, engine.Len())

	// 文本规则每次分配新ID
	first, err := engine.AddRuleString("ALLOW tcp 80")
	require.NoError(t, err)
	second, err := engine.AddRuleString("ALLOW tcp 80")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
