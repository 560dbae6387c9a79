package types

import "fmt"

// Verdict 数据包判定结果
type Verdict uint8

const (
	VerdictDenied  Verdict = iota + 1 // 拒绝
	VerdictAllowed                    // 放行
)

func (v Verdict) Allowed() bool {
	return v == VerdictAllowed
}

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "ALLOWED"
	case VerdictDenied:
		return "DENIED"
	default:
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// MatchType 表示判定由哪一类规则产生
type MatchType uint8

const (
	MatchDefault   MatchType = iota + 1 // 无规则命中，走默认策略
	MatchDenyRule                       // 命中拒绝规则
	MatchAllowRule                      // 命中放行规则
)

func (m MatchType) String() string {
	switch m {
	case MatchDefault:
		return "default"
	case MatchDenyRule:
		return "deny_rule"
	case MatchAllowRule:
		return "allow_rule"
	default:
		return fmt.Sprintf("MatchType(%d)", uint8(m))
	}
}

func (m MatchType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Decision 规则引擎对单个数据包的判定
type Decision struct {
	Verdict Verdict   `json:"verdict"`
	Match   MatchType `json:"match"`
	RuleID  string    `json:"rule_id,omitempty"` // 命中的规则ID，默认策略时为空
}
