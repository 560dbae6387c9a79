// Package trident 配置变更前的三道检查：威胁检测、系统防护、事件响应。
// 它们只校验和记录配置，不参与数据包判定
package trident

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/sirupsen/logrus"
)

const (
	KeySecurityLevel   = "security_level"
	KeyFirewallEnabled = "firewall_enabled"

	SecurityLevelHigh = "high"
)

// MissingKeyError 配置缺少必需的键
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required config key: %s", e.Key)
}

// check 一条编译好的CEL检查，表达式通过 config 访问配置
type check struct {
	key string
	prg cel.Program
}

// Hooks 持有编译好的威胁检测表达式
type Hooks struct {
	checks []check
}

// NewHooks 编译必需键检查，表达式按 requiredKeys 的顺序求值
func NewHooks() (*Hooks, error) {
	env, err := cel.NewEnv(
		cel.Variable("config", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	requiredKeys := []string{KeySecurityLevel, KeyFirewallEnabled}
	h := &Hooks{checks: make([]check, 0, len(requiredKeys))}
	for _, key := range requiredKeys {
		expr := fmt.Sprintf("has(config.%s)", key)
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("CEL compile error for %q: %w", expr, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("CEL program error for %q: %w", expr, err)
		}
		h.checks = append(h.checks, check{key: key, prg: prg})
	}
	return h, nil
}

// DetectThreats 校验必需的配置键，第一个缺失的键返回 MissingKeyError
func (h *Hooks) DetectThreats(settings map[string]interface{}) error {
	if settings == nil {
		settings = map[string]interface{}{}
	}

	for _, c := range h.checks {
		out, _, err := c.prg.Eval(map[string]interface{}{"config": settings})
		if err != nil {
			return fmt.Errorf("CEL evaluation error for key %s: %w", c.key, err)
		}
		if present, ok := out.Value().(bool); !ok || !present {
			return &MissingKeyError{Key: c.key}
		}
	}

	logrus.Info("Threat detection checks passed.")
	return nil
}

// ProtectSystem 记录防火墙开关状态，firewall_enabled 为真值时视为开启
func (h *Hooks) ProtectSystem(settings map[string]interface{}) {
	if truthy(settings[KeyFirewallEnabled]) {
		logrus.Info("Firewall is enabled.")
	} else {
		logrus.Warn("Firewall is disabled!")
	}
	logrus.Info("System protection measures applied.")
}

// RespondToIncidents 按安全级别选择事件响应方式
func (h *Hooks) RespondToIncidents(settings map[string]interface{}) {
	if level, _ := settings[KeySecurityLevel].(string); level == SecurityLevelHigh {
		logrus.Info("High security mode: automated alerts enabled.")
	} else {
		logrus.Info("Standard incident response active.")
	}
	logrus.Info("Incident response executed.")
}

// Run 依次执行三道检查，威胁检测失败时不执行后两步
func (h *Hooks) Run(settings map[string]interface{}) error {
	if err := h.DetectThreats(settings); err != nil {
		return err
	}
	h.ProtectSystem(settings)
	h.RespondToIncidents(settings)
	return nil
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return true
	}
}
