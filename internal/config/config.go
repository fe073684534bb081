package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Progress struct {
		RefreshMS int `yaml:"refreshMS"`
		QueueSize int `yaml:"queueSize"`
	} `yaml:"progress"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Progress.RefreshMS = 150
	c.Progress.QueueSize = 256
	c.Sqlite.Dsn = "transfers.sqlite3"
	c.Sqlite.Prefix = "netprogress_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "netprogress.log"
	c.API.Listen = "127.0.0.1:8765"
	return c
}

// Load 在默认配置之上叠加 yaml 文件内容，path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return c, nil
}
