package ruleEngine

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RuleFile 规则文件格式，YAML和JSON共用（JSON是YAML的子集）
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules" json:"rules"`
}

// RuleLoader 负责加载和管理规则
type RuleLoader struct {
	rules []*Rule          // 按加载顺序保存的规则
	index map[string]*Rule // 规则ID索引
}

// NewRuleLoader 创建一个新的规则加载器
func NewRuleLoader() *RuleLoader {
	return &RuleLoader{
		index: make(map[string]*Rule),
	}
}

// LoadRuleFromFile 从文件加载规则，任意一条规则格式错误则整个文件都不加载
func (rl *RuleLoader) LoadRuleFromFile(filePath string) error {
	// 读取文件内容
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read rule file %s: %w", filePath, err)
	}

	// 解析YAML
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rule file %s: %w", filePath, err)
	}

	if err := rl.addSpecs(file.Rules); err != nil {
		return fmt.Errorf("rule file %s: %w", filePath, err)
	}
	return nil
}

// LoadRulesFromDirectory 从目录加载所有规则文件，按文件名顺序
func (rl *RuleLoader) LoadRulesFromDirectory(dirPath string) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("read rule directory %s: %w", dirPath, err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		switch filepath.Ext(file.Name()) {
		case ".yaml", ".yml", ".json":
			if err := rl.LoadRuleFromFile(filepath.Join(dirPath, file.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadRuleLines 加载文本规则列表，例如 []string{"ALLOW tcp 80", "DENY udp 53"}
func (rl *RuleLoader) LoadRuleLines(lines []string) error {
	specs := make([]RuleSpec, 0, len(lines))
	for _, line := range lines {
		specs = append(specs, RuleSpec{Text: line})
	}
	return rl.addSpecs(specs)
}

// LoadRuleSpecs 加载配置中内联的规则
func (rl *RuleLoader) LoadRuleSpecs(specs []RuleSpec) error {
	return rl.addSpecs(specs)
}

// addSpecs 先全部构建和校验，全部成功后才写入
func (rl *RuleLoader) addSpecs(specs []RuleSpec) error {
	built := make([]*Rule, 0, len(specs))
	pending := make(map[string]bool)
	for i, spec := range specs {
		rule, err := spec.Build()
		if err != nil {
			return fmt.Errorf("rule #%d: %w", i+1, err)
		}
		if rule.ID != "" {
			if _, exists := rl.index[rule.ID]; exists || pending[rule.ID] {
				return fmt.Errorf("rule #%d: duplicate rule id %q", i+1, rule.ID)
			}
			pending[rule.ID] = true
		}
		built = append(built, rule)
	}

	for _, rule := range built {
		AssignID(rule)
		rl.rules = append(rl.rules, rule)
		rl.index[rule.ID] = rule
	}
	return nil
}

// GetRule 根据规则ID获取规则
func (rl *RuleLoader) GetRule(ruleID string) (*Rule, bool) {
	rule, exists := rl.index[ruleID]
	return rule, exists
}

// GetAllRules 按加载顺序获取所有规则
func (rl *RuleLoader) GetAllRules() []*Rule {
	out := make([]*Rule, len(rl.rules))
	copy(out, rl.rules)
	return out
}
