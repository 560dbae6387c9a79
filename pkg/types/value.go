package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValueKind 表示属性值的类型
type ValueKind uint8

const (
	KindString ValueKind = iota + 1 // 字符串
	KindInt                         // 整数
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	default:
		return "invalid"
	}
}

// Value 是规则条件和数据包属性使用的取值，只能是字符串或整数。
// 零值为无效值，与任何值都不相等。
type Value struct {
	kind ValueKind
	str  string
	num  int64
}

// StringValue 创建字符串值
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// IntValue 创建整数值
func IntValue(n int64) Value {
	return Value{kind: KindInt, num: n}
}

// ValueOf 将Go原生类型转换为Value，仅接受字符串和整数（以及没有小数部分的浮点数，
// encoding/json解码数字时会得到float64）
func ValueOf(x interface{}) (Value, error) {
	switch v := x.(type) {
	case Value:
		if !v.IsValid() {
			return Value{}, fmt.Errorf("invalid value")
		}
		return v, nil
	case string:
		return StringValue(v), nil
	case int:
		return IntValue(int64(v)), nil
	case int8:
		return IntValue(int64(v)), nil
	case int16:
		return IntValue(int64(v)), nil
	case int32:
		return IntValue(int64(v)), nil
	case int64:
		return IntValue(v), nil
	case uint8:
		return IntValue(int64(v)), nil
	case uint16:
		return IntValue(int64(v)), nil
	case uint32:
		return IntValue(int64(v)), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", v)
		}
		return IntValue(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", v)
		}
		return IntValue(int64(v)), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return Value{}, fmt.Errorf("number %v is not an integer", v)
		}
		return IntValue(int64(v)), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("number %s is not an integer", v.String())
		}
		return IntValue(n), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsValid() bool {
	return v.kind == KindString || v.kind == KindInt
}

// Equal 精确比较：类型必须相同，字符串区分大小写
func (v Value) Equal(other Value) bool {
	if !v.IsValid() || v.kind != other.kind {
		return false
	}
	if v.kind == KindString {
		return v.str == other.str
	}
	return v.num == other.num
}

// Str 返回字符串值，非字符串类型时ok为false
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Int 返回整数值，非整数类型时ok为false
func (v Value) Int() (int64, bool) {
	return v.num, v.kind == KindInt
}

// Interface 返回对应的Go原生值，用于序列化和日志
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	default:
		return "<invalid>"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalYAML() (interface{}, error) {
	return v.Interface(), nil
}

// UnmarshalYAML 只接受标量；!!int 标签解析为整数，其余标量一律按字符串处理，
// 因此带引号的 "80" 是字符串
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: attribute value must be a scalar", node.Line)
	}

	if node.ShortTag() == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = IntValue(n)
		return nil
	}

	*v = StringValue(node.Value)
	return nil
}
