package ruleEngine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/haolipeng/trident_firewall/pkg/types"
	"gopkg.in/yaml.v3"
)

// 文本规则中的属性名
const (
	AttrProtocol = "protocol"
	AttrPort     = "port"
)

// ParseRule 解析文本规则 "ACTION PROTOCOL PORT"
// 动作不区分大小写，协议统一转为小写，端口必须是整数
func ParseRule(raw string) (*Rule, error) {
	parts := strings.Fields(raw)
	if len(parts) != 3 {
		return nil, &MalformedRuleError{Raw: raw, Reason: fmt.Sprintf("expected 3 fields, got %d", len(parts))}
	}

	action, ok := ParseAction(parts[0])
	if !ok {
		return nil, &MalformedRuleError{Raw: raw, Reason: fmt.Sprintf("invalid action %q", parts[0])}
	}

	port, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, &MalformedRuleError{Raw: raw, Reason: fmt.Sprintf("port %q must be an integer", parts[2])}
	}

	return NewRule(action, Criteria{
		{Key: AttrProtocol, Value: types.StringValue(strings.ToLower(parts[1]))},
		{Key: AttrPort, Value: types.IntValue(port)},
	}), nil
}

// RuleRecord 结构化规则配置
type RuleRecord struct {
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Action      string   `json:"action" yaml:"action"`
	Criteria    Criteria `json:"criteria" yaml:"criteria"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Build 规范化动作并校验，生成规则
func (rec RuleRecord) Build() (*Rule, error) {
	action, ok := ParseAction(rec.Action)
	if !ok {
		raw := strings.TrimSpace(rec.Action + " " + rec.Criteria.String())
		return nil, &MalformedRuleError{Raw: raw, Reason: fmt.Sprintf("invalid action %q", rec.Action)}
	}

	rule := &Rule{
		ID:          rec.ID,
		Action:      action,
		Criteria:    rec.Criteria.Clone(),
		Description: rec.Description,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// RuleSpec 规则配置项，既可以是文本规则，也可以是结构化规则
//
//	rules:
//	  - "ALLOW tcp 80"
//	  - action: deny
//	    criteria: {src_ip: 10.0.0.5, port: 22}
type RuleSpec struct {
	Text   string
	Record *RuleRecord
}

// Build 生成规则，文本和结构化两种形式都会校验
func (s RuleSpec) Build() (*Rule, error) {
	switch {
	case s.Record != nil:
		return s.Record.Build()
	case s.Text != "":
		return ParseRule(s.Text)
	default:
		return nil, &MalformedRuleError{Raw: "", Reason: "empty rule"}
	}
}

func (s *RuleSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Text = node.Value
		s.Record = nil
		return nil
	case yaml.MappingNode:
		var rec RuleRecord
		if err := node.Decode(&rec); err != nil {
			return err
		}
		s.Text = ""
		s.Record = &rec
		return nil
	default:
		return fmt.Errorf("line %d: rule must be a string or a mapping", node.Line)
	}
}

func (s *RuleSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		s.Text = text
		s.Record = nil
		return nil
	}

	var rec RuleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	s.Text = ""
	s.Record = &rec
	return nil
}

func (s RuleSpec) MarshalYAML() (interface{}, error) {
	if s.Record != nil {
		return s.Record, nil
	}
	return s.Text, nil
}

func (s RuleSpec) MarshalJSON() ([]byte, error) {
	if s.Record != nil {
		return json.Marshal(s.Record)
	}
	return json.Marshal(s.Text)
}
