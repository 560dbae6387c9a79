package ruleEngine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"gopkg.in/yaml.v3"
)

// Action 规则动作
type Action string

const (
	ActionAllow Action = "ALLOW" // 放行
	ActionDeny  Action = "DENY"  // 拒绝
)

// ParseAction 不区分大小写解析规则动作
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionAllow:
		return ActionAllow, true
	case ActionDeny:
		return ActionDeny, true
	default:
		return "", false
	}
}

// Criterion 单个匹配条件：属性名 == 取值
type Criterion struct {
	Key   string
	Value types.Value
}

// Criteria 有序的匹配条件表，保持配置中的书写顺序
type Criteria []Criterion

// CriteriaFromMap 从原生map构建条件表，按属性名排序保证顺序稳定
func CriteriaFromMap(raw map[string]interface{}) (Criteria, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	criteria := make(Criteria, 0, len(raw))
	for _, k := range keys {
		v, err := types.ValueOf(raw[k])
		if err != nil {
			return nil, fmt.Errorf("criteria %s: %w", k, err)
		}
		criteria = append(criteria, Criterion{Key: k, Value: v})
	}
	return criteria, nil
}

func (c Criteria) Get(key string) (types.Value, bool) {
	for _, cr := range c {
		if cr.Key == key {
			return cr.Value, true
		}
	}
	return types.Value{}, false
}

func (c Criteria) Clone() Criteria {
	if c == nil {
		return nil
	}
	out := make(Criteria, len(c))
	copy(out, c)
	return out
}

func (c Criteria) String() string {
	parts := make([]string, 0, len(c))
	for _, cr := range c {
		parts = append(parts, cr.Key+"="+cr.Value.String())
	}
	return strings.Join(parts, " ")
}

// MarshalJSON 按条件顺序输出JSON对象
func (c Criteria) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cr := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cr.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(cr.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 逐个token解码，保留对象中的键顺序
func (c *Criteria) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("criteria must be a JSON object")
	}

	var out Criteria
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("criteria key must be a string")
		}
		if seen[key] {
			return fmt.Errorf("duplicate criteria key %q", key)
		}
		seen[key] = true

		var v types.Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("criteria %s: %w", key, err)
		}
		out = append(out, Criterion{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*c = out
	return nil
}

func (c Criteria) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, cr := range c {
		var valNode yaml.Node
		if err := valNode.Encode(cr.Value.Interface()); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: cr.Key},
			&valNode,
		)
	}
	return node, nil
}

// UnmarshalYAML 直接遍历映射节点，保留键顺序
func (c *Criteria) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: criteria must be a mapping", node.Line)
	}

	out := make(Criteria, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: criteria key must be a scalar", keyNode.Line)
		}
		if seen[keyNode.Value] {
			return fmt.Errorf("line %d: duplicate criteria key %q", keyNode.Line, keyNode.Value)
		}
		seen[keyNode.Value] = true

		var v types.Value
		if err := valNode.Decode(&v); err != nil {
			return fmt.Errorf("criteria %s: %w", keyNode.Value, err)
		}
		out = append(out, Criterion{Key: keyNode.Value, Value: v})
	}

	*c = out
	return nil
}

// Rule 一条过滤规则：动作 + 匹配条件
type Rule struct {
	ID          string   `json:"id" yaml:"id"`                                       // 规则ID
	Action      Action   `json:"action" yaml:"action"`                               // 规则动作 ALLOW/DENY
	Criteria    Criteria `json:"criteria" yaml:"criteria"`                           // 匹配条件
	Description string   `json:"description,omitempty" yaml:"description,omitempty"` // 规则描述
}

// NewRule 创建结构化规则
func NewRule(action Action, criteria Criteria) *Rule {
	return &Rule{
		Action:   action,
		Criteria: criteria,
	}
}

// Validate 检查规则不变量：动作只能是ALLOW/DENY，条件非空，属性名非空且取值有效
func (r *Rule) Validate() error {
	if r == nil {
		return &MalformedRuleError{Raw: "<nil>", Reason: "rule is nil"}
	}
	if r.Action != ActionAllow && r.Action != ActionDeny {
		return &MalformedRuleError{Raw: r.String(), Reason: fmt.Sprintf("invalid action %q", string(r.Action))}
	}
	if len(r.Criteria) == 0 {
		return &MalformedRuleError{Raw: r.String(), Reason: "criteria must not be empty"}
	}
	seen := make(map[string]bool, len(r.Criteria))
	for _, cr := range r.Criteria {
		if cr.Key == "" {
			return &MalformedRuleError{Raw: r.String(), Reason: "criteria key must not be empty"}
		}
		if seen[cr.Key] {
			return &MalformedRuleError{Raw: r.String(), Reason: fmt.Sprintf("duplicate criteria key %q", cr.Key)}
		}
		seen[cr.Key] = true
		if !cr.Value.IsValid() {
			return &MalformedRuleError{Raw: r.String(), Reason: fmt.Sprintf("criteria %s has no value", cr.Key)}
		}
	}
	return nil
}

// Clone 深拷贝规则，存入规则库的副本不受调用方后续修改影响
func (r *Rule) Clone() *Rule {
	c := *r
	c.Criteria = r.Criteria.Clone()
	return &c
}

// AssignID 规则ID为空时分配一个UUID
func AssignID(r *Rule) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

func (r *Rule) String() string {
	if len(r.Criteria) == 0 {
		return string(r.Action)
	}
	return string(r.Action) + " " + r.Criteria.String()
}
