package ruleEngine

import (
	"errors"
	"fmt"
)

// ErrMalformedRule 所有规则格式错误都满足 errors.Is(err, ErrMalformedRule)
var ErrMalformedRule = errors.New("malformed rule")

// MalformedRuleError 规则格式错误，Raw为出错的原始规则
type MalformedRuleError struct {
	Raw    string
	Reason string
}

func (e *MalformedRuleError) Error() string {
	return fmt.Sprintf("malformed rule %q: %s", e.Raw, e.Reason)
}

func (e *MalformedRuleError) Is(target error) bool {
	return target == ErrMalformedRule
}
