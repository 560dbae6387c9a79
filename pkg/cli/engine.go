package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haolipeng/trident_firewall/pkg/processor"
	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
)

// buildEngine 按顺序加载规则文件（或规则目录），再追加命令行文本规则
func buildEngine(ruleFiles, rules []string) (*processor.RuleEngine, error) {
	loader := ruleEngine.NewRuleLoader()

	for _, path := range ruleFiles {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("rules file: %w", err)
		}
		if info.IsDir() {
			err = loader.LoadRulesFromDirectory(path)
		} else {
			err = loader.LoadRuleFromFile(path)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := loader.LoadRuleLines(rules); err != nil {
		return nil, err
	}

	return processor.NewRuleEngine(loader.GetAllRules())
}

// parseAttr 解析 key=value，整数形式的值按整数处理，其余按字符串处理
func parseAttr(s string) (string, types.Value, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", types.Value{}, fmt.Errorf("invalid attribute %q, expected key=value", s)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return key, types.IntValue(n), nil
	}
	return key, types.StringValue(raw), nil
}

// parseSetting 解析配置值：true/false、整数、浮点数，其余按字符串处理
func parseSetting(s string) (string, interface{}, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid setting %q, expected key=value", s)
	}
	switch raw {
	case "true":
		return key, true, nil
	case "false":
		return key, false, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return key, n, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return key, f, nil
	}
	return key, raw, nil
}
