package ruleEngine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestParseRule 测试文本规则解析
func TestParseRule(t *testing.T) {
	testCases := []struct {
		name         string
		raw          string
		wantErr      bool
		wantAction   Action
		wantProtocol string
		wantPort     int64
	}{
		{name: "标准放行规则", raw: "ALLOW tcp 80", wantAction: ActionAllow, wantProtocol: "tcp", wantPort: 80},
		{name: "标准拒绝规则", raw: "DENY udp 53", wantAction: ActionDeny, wantProtocol: "udp", wantPort: 53},
		{name: "动作和协议大小写规范化", raw: "allow TCP 8080", wantAction: ActionAllow, wantProtocol: "tcp", wantPort: 8080},
		{name: "多余空白", raw: "  Deny\tUdP   123 ", wantAction: ActionDeny, wantProtocol: "udp", wantPort: 123},
		{name: "字段不足", raw: "ALLOW tcp", wantErr: true},
		{name: "字段过多", raw: "ALLOW tcp 80 extra", wantErr: true},
		{name: "空字符串", raw: "", wantErr: true},
		{name: "非法动作", raw: "PERMIT tcp 80", wantErr: true},
		{name: "端口不是整数", raw: "ALLOW tcp http", wantErr: true},
		{name: "端口是小数", raw: "ALLOW tcp 80.5", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := ParseRule(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, rule)
				assert.True(t, errors.Is(err, ErrMalformedRule))

				var malformed *MalformedRuleError
				require.True(t, errors.As(err, &malformed))
				assert.Equal(t, tc.raw, malformed.Raw, "错误中应包含原始规则")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantAction, rule.Action)
			require.Len(t, rule.Criteria, 2)

			protocol, ok := rule.Criteria.Get(AttrProtocol)
			require.True(t, ok)
			assert.Equal(t, types.StringValue(tc.wantProtocol), protocol)

			port, ok := rule.Criteria.Get(AttrPort)
			require.True(t, ok)
			assert.Equal(t, types.IntValue(tc.wantPort), port)
		})
	}
}

// TestRuleValidate 测试结构化规则校验
func TestRuleValidate(t *testing.T) {
	valid := NewRule(ActionDeny, Criteria{{Key: "src_ip", Value: types.StringValue("10.0.0.5")}})
	assert.NoError(t, valid.Validate())

	testCases := []struct {
		name string
		rule *Rule
	}{
		{name: "空条件", rule: NewRule(ActionAllow, nil)},
		{name: "非法动作", rule: NewRule(Action("LOG"), Criteria{{Key: "port", Value: types.IntValue(80)}})},
		{name: "空属性名", rule: NewRule(ActionAllow, Criteria{{Key: "", Value: types.IntValue(80)}})},
		{name: "无效取值", rule: NewRule(ActionAllow, Criteria{{Key: "port"}})},
		{name: "重复属性名", rule: NewRule(ActionAllow, Criteria{
			{Key: "port", Value: types.IntValue(80)},
			{Key: "port", Value: types.IntValue(81)},
		})},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			assert.ErrorIs(t, err, ErrMalformedRule)
		})
	}
}

// TestRuleSpecDecode 测试规则配置项的两种形式
func TestRuleSpecDecode(t *testing.T) {
	doc := `
rules:
  - "ALLOW tcp 80"
  - action: deny
    criteria:
      src_ip: 10.0.0.5
      port: 22
      tag: "22"
`
	var file RuleFile
	require.NoError(t, yaml.Unmarshal([]byte(doc), &file))
	require.Len(t, file.Rules, 2)

	textRule, err := file.Rules[0].Build()
	require.NoError(t, err)
	assert.Equal(t, "ALLOW protocol=tcp port=80", textRule.String())

	structRule, err := file.Rules[1].Build()
	require.NoError(t, err)
	assert.Equal(t, ActionDeny, structRule.Action)

	// 条件保持书写顺序，带引号的数字是字符串
	require.Len(t, structRule.Criteria, 3)
	assert.Equal(t, "src_ip", structRule.Criteria[0].Key)
	assert.Equal(t, types.StringValue("10.0.0.5"), structRule.Criteria[0].Value)
	assert.Equal(t, types.IntValue(22), structRule.Criteria[1].Value)
	assert.Equal(t, types.StringValue("22"), structRule.Criteria[2].Value)
}

// TestRuleSpecJSON 测试JSON形式的规则配置项
func TestRuleSpecJSON(t *testing.T) {
	var specs []RuleSpec
	err := json.Unmarshal([]byte(`["deny UDP 53", {"action":"ALLOW","criteria":{"port":443,"src_ip":"192.168.1.20"}}]`), &specs)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	first, err := specs[0].Build()
	require.NoError(t, err)
	assert.Equal(t, "DENY protocol=udp port=53", first.String())

	second, err := specs[1].Build()
	require.NoError(t, err)
	assert.Equal(t, "ALLOW port=443 src_ip=192.168.1.20", second.String())

	out, err := json.Marshal(second.Criteria)
	require.NoError(t, err)
	assert.JSONEq(t, `{"port":443,"src_ip":"192.168.1.20"}`, string(out))

	_, err = RuleSpec{Record: &RuleRecord{Action: "permit", Criteria: Criteria{{Key: "port", Value: types.IntValue(1)}}}}.Build()
	assert.ErrorIs(t, err, ErrMalformedRule)

	_, err = RuleSpec{}.Build()
	assert.ErrorIs(t, err, ErrMalformedRule)
}

func TestCriteriaFromMap(t *testing.T) {
	criteria, err := CriteriaFromMap(map[string]interface{}{"src_ip": "10.0.0.5", "port": 22})
	require.NoError(t, err)
	assert.Equal(t, "port=22 src_ip=10.0.0.5", criteria.String())

	_, err = CriteriaFromMap(map[string]interface{}{"enabled": true})
	assert.Error(t, err)
}
