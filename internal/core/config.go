package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config는 전체 애플리케이션 설정을 담는 구조체
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Blink        BlinkConfig        `yaml:"blink"`
	Refresh      RefreshConfig      `yaml:"refresh"`
	LocalStorage LocalStorageConfig `yaml:"local_storage"`
	Liveview     LiveviewConfig     `yaml:"liveview"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	HTTPPort   int  `yaml:"http_port"`
	Production bool `yaml:"production"`
}

// BlinkConfig는 Blink 클라우드 계정 설정
type BlinkConfig struct {
	Email           string `yaml:"email"`
	Password        string `yaml:"password"`
	CredentialsFile string `yaml:"credentials_file"`
	RegionID        string `yaml:"region_id"`
	Timeout         int    `yaml:"timeout"` // 초 단위
}

// RefreshConfig는 폴링 주기 설정
type RefreshConfig struct {
	IntervalSec           int `yaml:"interval_sec"`
	MotionIntervalMinutes int `yaml:"motion_interval_minutes"`
	ClipRetentionMinutes  int `yaml:"clip_retention_minutes"`
}

// LocalStorageConfig는 싱크 모듈 로컬 스토리지 매니페스트 설정
type LocalStorageConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxAttempts  int  `yaml:"max_attempts"`
	BaseDelaySec int  `yaml:"base_delay_sec"`
	MaxDelaySec  int  `yaml:"max_delay_sec"`
}

// LiveviewConfig는 라이브뷰 릴레이 설정
type LiveviewConfig struct {
	// ClientBuffer is the per-client payload queue depth. A client
	// whose queue is full misses payloads instead of stalling the relay.
	ClientBuffer int `yaml:"client_buffer"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // console, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// LoadConfig는 YAML 설정 파일을 로드합니다
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// applyDefaults는 설정되지 않은 항목에 기본값을 적용합니다
func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8290
	}
	if c.Blink.Timeout == 0 {
		c.Blink.Timeout = 30
	}
	if c.Refresh.IntervalSec == 0 {
		c.Refresh.IntervalSec = 30
	}
	if c.Refresh.MotionIntervalMinutes == 0 {
		c.Refresh.MotionIntervalMinutes = 1
	}
	if c.Refresh.ClipRetentionMinutes == 0 {
		c.Refresh.ClipRetentionMinutes = 60
	}
	if c.LocalStorage.MaxAttempts == 0 {
		c.LocalStorage.MaxAttempts = 4
	}
	if c.LocalStorage.BaseDelaySec == 0 {
		c.LocalStorage.BaseDelaySec = 1
	}
	if c.LocalStorage.MaxDelaySec == 0 {
		c.LocalStorage.MaxDelaySec = 30
	}
	if c.Liveview.ClientBuffer == 0 {
		c.Liveview.ClientBuffer = 64
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/blinkd.log"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 7
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
}

// validate는 필수 설정을 검증합니다
func (c *Config) validate() error {
	if c.Blink.Email == "" && c.Blink.CredentialsFile == "" {
		return fmt.Errorf("either blink.email or blink.credentials_file is required")
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Refresh.IntervalSec < 5 {
		return fmt.Errorf("refresh.interval_sec must be at least 5, got %d", c.Refresh.IntervalSec)
	}
	return nil
}
