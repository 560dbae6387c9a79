package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"gopkg.in/yaml.v3"
)

// FirewallConfig 防火墙规则及安全策略
type FirewallConfig struct {
	Enabled       bool                  `yaml:"enabled"`
	SecurityLevel string                `yaml:"security_level"` // low / medium / high
	RuleDirectory string                `yaml:"rule_directory"` // 规则文件目录，为空时只加载内联规则
	Rules         []ruleEngine.RuleSpec `yaml:"rules"`          // 内联规则，追加在规则目录之后
}

// Settings 转换为trident检查使用的配置键
func (f FirewallConfig) Settings() map[string]interface{} {
	settings := map[string]interface{}{
		"firewall_enabled": f.Enabled,
	}
	if f.SecurityLevel != "" {
		settings["security_level"] = f.SecurityLevel
	}
	return settings
}

type PipelineConfig struct {
	WorkerCount int `yaml:"worker_count"`
	BufferSize  int `yaml:"buffer_size"`
}

// TrafficConfig 流量回放的输入输出，Input 为空时 serve 不启动回放
type TrafficConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	Filter string `yaml:"filter"` // CEL过滤表达式
}

type APIConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	Filename   string `yaml:"filename"`
	MaxAge     int    `yaml:"max_age"`     // 小时
	RotateTime int    `yaml:"rotate_time"` // 小时
}

type Config struct {
	Firewall FirewallConfig `yaml:"firewall"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Traffic  TrafficConfig  `yaml:"traffic"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// Default 返回默认配置，配置文件中的字段覆盖默认值
func Default() *Config {
	return &Config{
		Firewall: FirewallConfig{
			Enabled:       true,
			SecurityLevel: "medium",
		},
		Pipeline: PipelineConfig{
			WorkerCount: 1,
			BufferSize:  1000,
		},
		Traffic: TrafficConfig{
			Output: "verdicts.jsonl",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Log: LogConfig{
			Level:      "WARN",
			Dir:        "logs",
			Filename:   "trident.log",
			MaxAge:     24,
			RotateTime: 1,
		},
	}
}

func (c *Config) Validate() error {
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	switch c.Firewall.SecurityLevel {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("unknown security level %q", c.Firewall.SecurityLevel)
	}
	if c.API.Port != "" {
		if _, err := strconv.ParseUint(c.API.Port, 10, 16); err != nil {
			return fmt.Errorf("invalid api port %q", c.API.Port)
		}
	}
	if c.Log.MaxAge < 0 || c.Log.RotateTime < 0 {
		return fmt.Errorf("log max_age and rotate_time must not be negative")
	}
	return nil
}

// Address API监听地址
func (c *Config) Address() string {
	return c.API.Host + ":" + c.API.Port
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
