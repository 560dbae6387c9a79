package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"

	"github.com/haolipeng/trident_firewall/pkg/trident"
	"github.com/sirupsen/logrus"
)

var ErrConfigNotFound = errors.New("config file not found")

// Manager 管理JSON格式的运行时设置文件，更新前经过trident检查
type Manager struct {
	path     string
	hooks    *trident.Hooks
	mu       sync.RWMutex
	settings map[string]interface{}
}

func NewManager(path string) (*Manager, error) {
	hooks, err := trident.NewHooks()
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:     path,
		hooks:    hooks,
		settings: make(map[string]interface{}),
	}, nil
}

func (m *Manager) Path() string {
	return m.path
}

// Load 从文件读取设置并替换当前设置
func (m *Manager) Load() (map[string]interface{}, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, m.path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", m.path, err)
	}

	settings := make(map[string]interface{})
	if err := json.Unmarshal(data, &settings); err != nil {
		logrus.Errorf("Invalid JSON in %s: %v", m.path, err)
		return nil, fmt.Errorf("invalid JSON in %s: %w", m.path, err)
	}
	if settings == nil {
		settings = make(map[string]interface{})
	}

	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()

	logrus.Infof("Configuration loaded from %s", m.path)
	return maps.Clone(settings), nil
}

// Save 写入设置文件，data 为nil时写入当前设置
func (m *Manager) Save(data map[string]interface{}) error {
	if data == nil {
		data = m.Settings()
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.WriteFile(m.path, append(out, '\n'), 0644); err != nil {
		logrus.Errorf("Failed to save configuration: %v", err)
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	logrus.Infof("Configuration saved to %s", m.path)
	return nil
}

// Update 对更新内容执行trident检查，全部通过后合并到当前设置；
// 检查失败时当前设置保持不变
func (m *Manager) Update(updates map[string]interface{}) error {
	if err := m.hooks.Run(updates); err != nil {
		logrus.Errorf("Error updating configuration: %v", err)
		return err
	}

	m.mu.Lock()
	maps.Copy(m.settings, updates)
	m.mu.Unlock()

	logrus.Info("Configuration updated successfully.")
	return nil
}

// Settings 返回当前设置的副本
func (m *Manager) Settings() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.settings)
}
