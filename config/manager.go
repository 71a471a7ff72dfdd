package config

import (
	"sync"
)

// ChangeListener is called after the configuration was replaced
type ChangeListener func(old, current Config)

// ConfigManager holds the live configuration. Runtime settings edits replace
// it while jobs and handlers read snapshots through GetConfig.
type ConfigManager struct {
	mu        sync.RWMutex
	config    Config
	listeners []ChangeListener
}

// NewConfigManager creates a new configuration manager with the provided initial config
func NewConfigManager(initialConfig Config) *ConfigManager {
	return &ConfigManager{
		config: initialConfig,
	}
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers fn for every later UpdateConfig
func (cm *ConfigManager) OnChange(fn ChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, fn)
}

// UpdateConfig swaps in newConfig and notifies listeners outside the lock
func (cm *ConfigManager) UpdateConfig(newConfig Config) {
	cm.mu.Lock()
	old := cm.config
	cm.config = newConfig
	listeners := append([]ChangeListener(nil), cm.listeners...)
	cm.mu.Unlock()

	for _, fn := range listeners {
		fn(old, newConfig)
	}
}
