package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"hellopool/internal/api"
	"hellopool/internal/client"
	"hellopool/internal/logger"
	"hellopool/internal/server"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Server ServerConfig `yaml:"server" json:"server"`
	Admin  AdminConfig  `yaml:"admin" json:"admin"`
	Log    LogConfig    `yaml:"log" json:"log"`
	Load   LoadConfig   `yaml:"load" json:"load"`
}

// PoolConfig はワーカープール設定
type PoolConfig struct {
	Size int `yaml:"size" json:"size" default:"4"`
}

// ServerConfig は hello サーバー設定
type ServerConfig struct {
	Addr       string `yaml:"addr" json:"addr" default:"127.0.0.1:7878"`
	ViewsDir   string `yaml:"views_dir" json:"views_dir"`
	SlowDelay  string `yaml:"slow_delay" json:"slow_delay" default:"5s"`
	ReadBuffer int    `yaml:"read_buffer" json:"read_buffer" default:"1024"`
	MaxConns   int    `yaml:"max_conns" json:"max_conns"`
	IOTimeout  string `yaml:"io_timeout" json:"io_timeout" default:"30s"`
}

// AdminConfig は管理 API 設定
type AdminConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	Addr              string `yaml:"addr" json:"addr" default:"127.0.0.1:9090"`
	BroadcastInterval string `yaml:"broadcast_interval" json:"broadcast_interval" default:"1s"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level" default:"info"`
}

// LoadConfig は負荷生成クライアント設定
type LoadConfig struct {
	Target        string  `yaml:"target" json:"target" default:"127.0.0.1:7878"`
	Requests      int     `yaml:"requests" json:"requests" default:"100"`
	Concurrency   int     `yaml:"concurrency" json:"concurrency" default:"4"`
	SlowRatio     float64 `yaml:"slow_ratio" json:"slow_ratio"`
	MissingRatio  float64 `yaml:"missing_ratio" json:"missing_ratio" default:"0.1"`
	MaxRetries    int     `yaml:"max_retries" json:"max_retries" default:"3"`
	RetryInterval string  `yaml:"retry_interval" json:"retry_interval" default:"100ms"`
	Timeout       string  `yaml:"timeout" json:"timeout" default:"10s"`
}

// Default はデフォルト値を埋めた設定を返す
func Default() *FileConfig {
	var config FileConfig
	if err := defaults.Set(&config); err != nil {
		panic(fmt.Sprintf("config: invalid default tags: %v", err))
	}
	return &config
}

// LoadFile は設定ファイルを読み込む。ファイルにない項目はデフォルト値になる
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be greater than zero")
	}

	if f.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if f.Server.ReadBuffer < 0 {
		return fmt.Errorf("server.read_buffer must be non-negative")
	}
	if f.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must be non-negative")
	}
	if _, err := parseDuration("server.slow_delay", f.Server.SlowDelay); err != nil {
		return err
	}
	if _, err := parseDuration("server.io_timeout", f.Server.IOTimeout); err != nil {
		return err
	}

	if f.Admin.Enabled && f.Admin.Addr == "" {
		return fmt.Errorf("admin.addr must not be empty when admin is enabled")
	}
	if _, err := parseDuration("admin.broadcast_interval", f.Admin.BroadcastInterval); err != nil {
		return err
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if f.Load.Requests < 0 {
		return fmt.Errorf("load.requests must be non-negative")
	}
	if f.Load.Concurrency <= 0 {
		return fmt.Errorf("load.concurrency must be greater than zero")
	}
	if f.Load.SlowRatio < 0 || f.Load.SlowRatio > 1 {
		return fmt.Errorf("load.slow_ratio must be between 0 and 1")
	}
	if f.Load.MissingRatio < 0 || f.Load.SlowRatio+f.Load.MissingRatio > 1 {
		return fmt.Errorf("load.missing_ratio must be between 0 and 1 - slow_ratio")
	}
	if f.Load.MaxRetries < 0 {
		return fmt.Errorf("load.max_retries must be non-negative")
	}
	if _, err := parseDuration("load.retry_interval", f.Load.RetryInterval); err != nil {
		return err
	}
	if _, err := parseDuration("load.timeout", f.Load.Timeout); err != nil {
		return err
	}

	return nil
}

// parseDuration は空文字を 0 として期間をパースする
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative", field)
	}
	return d, nil
}

// LogLevel はログレベルを返す
func (f *FileConfig) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(f.Log.Level)
}

// ToServerConfig は server.Config に変換する
func (f *FileConfig) ToServerConfig() (server.Config, error) {
	sc := f.Server
	config := server.DefaultConfig()

	if sc.Addr != "" {
		config.Addr = sc.Addr
	}
	config.ViewsDir = sc.ViewsDir
	if sc.ReadBuffer > 0 {
		config.ReadBufferSize = sc.ReadBuffer
	}
	config.MaxConns = sc.MaxConns

	var err error
	if config.SlowDelay, err = parseDuration("server.slow_delay", sc.SlowDelay); err != nil {
		return config, err
	}
	if config.IOTimeout, err = parseDuration("server.io_timeout", sc.IOTimeout); err != nil {
		return config, err
	}

	return config, nil
}

// ToAdminConfig は api.Config に変換する
func (f *FileConfig) ToAdminConfig() (api.Config, error) {
	interval, err := parseDuration("admin.broadcast_interval", f.Admin.BroadcastInterval)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:              f.Admin.Addr,
		BroadcastInterval: interval,
	}, nil
}

// ToClientConfig は client.Config に変換する
func (f *FileConfig) ToClientConfig() (client.Config, error) {
	lc := f.Load
	config := client.DefaultConfig()

	if lc.Target != "" {
		config.Target = lc.Target
	}
	config.Requests = lc.Requests
	if lc.Concurrency > 0 {
		config.Concurrency = lc.Concurrency
	}
	config.SlowRatio = lc.SlowRatio
	config.MissingRatio = lc.MissingRatio
	if lc.MaxRetries >= 0 {
		config.MaxRetries = uint(lc.MaxRetries)
	}

	var err error
	if config.RetryInterval, err = parseDuration("load.retry_interval", lc.RetryInterval); err != nil {
		return config, err
	}
	if config.Timeout, err = parseDuration("load.timeout", lc.Timeout); err != nil {
		return config, err
	}

	return config, nil
}
