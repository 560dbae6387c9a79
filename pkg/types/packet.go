package types

import (
	"encoding/json"
	"fmt"
)

// AttributeGetter 按名称读取数据包属性，匹配器只依赖这个接口
type AttributeGetter interface {
	Attribute(name string) (Value, bool)
}

// Attributes 数据包属性表，key为属性名（protocol、port、src_ip等）
type Attributes map[string]Value

func (a Attributes) Attribute(name string) (Value, bool) {
	v, ok := a[name]
	return v, ok
}

// NewAttributes 从原生map构建属性表
func NewAttributes(raw map[string]interface{}) (Attributes, error) {
	attrs := make(Attributes, len(raw))
	for name, x := range raw {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs[name] = v
	}
	return attrs, nil
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Attributes(raw)
	return nil
}

// Packet 表示处理流水线中传递的数据包描述
type Packet struct {
	ID         string
	Timestamp  int64
	Attributes Attributes
	Error      error

	Decision *Decision // 规则引擎的判定结果
}

func (p *Packet) Attribute(name string) (Value, bool) {
	return p.Attributes.Attribute(name)
}

// Stage 表示处理阶段
type Stage int

const (
	StageAttributeNormalization Stage = iota + 1 // 属性规范化
	StageRuleEngineDetection                     // 规则引擎判定
)
