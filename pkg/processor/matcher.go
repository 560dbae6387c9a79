package processor

import (
	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
)

// Match 判断数据包是否满足规则的全部条件。
// 每个条件要求数据包含有该属性且取值精确相等；缺少属性视为不匹配，不是错误
func Match(rule *ruleEngine.Rule, packet types.AttributeGetter) bool {
	if len(rule.Criteria) == 0 {
		return false
	}
	for _, cr := range rule.Criteria {
		v, ok := packet.Attribute(cr.Key)
		if !ok || !v.Equal(cr.Value) {
			return false
		}
	}
	return true
}
