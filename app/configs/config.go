package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Agent AgentConfig `json:"agent"`
	Model ModelConfig `json:"model"`
	Task  TaskConfig  `json:"task"`
	Paths PathsConfig `json:"paths"`
}

type AgentConfig struct {
	Name string `json:"name"`
}

type ModelConfig struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	Name       string `json:"name"`
	TimeoutSec int    `json:"timeout_sec"`
}

type TaskConfig struct {
	UndoDepth             int `json:"undo_depth"`
	UndoCollapseWindowSec int `json:"undo_collapse_window_sec"`
}

type PathsConfig struct {
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			Name: "Taskpilot",
		},
		Model: ModelConfig{
			Endpoint:   "http://localhost:11434/v1/chat/completions",
			Name:       "qwen2.5:14b",
			TimeoutSec: 60,
		},
		Task: TaskConfig{
			UndoDepth:             20,
			UndoCollapseWindowSec: 5,
		},
		Paths: PathsConfig{
			DataDir: filepath.Join("output", "db"),
			LogDir:  filepath.Join("output", "logs"),
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		cfg.Agent.Name = "Taskpilot"
	}
	if strings.TrimSpace(cfg.Model.Endpoint) == "" {
		cfg.Model.Endpoint = "http://localhost:11434/v1/chat/completions"
	}
	if strings.TrimSpace(cfg.Model.Name) == "" {
		cfg.Model.Name = "qwen2.5:14b"
	}
	if cfg.Model.TimeoutSec <= 0 {
		cfg.Model.TimeoutSec = 60
	}
	if cfg.Task.UndoDepth <= 0 {
		cfg.Task.UndoDepth = 20
	}
	if cfg.Task.UndoCollapseWindowSec < 0 {
		cfg.Task.UndoCollapseWindowSec = 5
	}
	if strings.TrimSpace(cfg.Paths.DataDir) == "" {
		cfg.Paths.DataDir = filepath.Join("output", "db")
	}
	if strings.TrimSpace(cfg.Paths.LogDir) == "" {
		cfg.Paths.LogDir = filepath.Join("output", "logs")
	}
}
