package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TargetURL  string `yaml:"target_url"`
	TargetTime string `yaml:"target_time"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	SessionFile        string `yaml:"session_file"`

	PageLoadTimeout int `yaml:"page_load_timeout"`
	ViewportWidth   int `yaml:"viewport_width"`
	ViewportHeight  int `yaml:"viewport_height"`
	ViewportJitter  int `yaml:"viewport_jitter"`

	MaxAttempts       int `yaml:"max_attempts"`
	RetryIntervalMs   int `yaml:"retry_interval_ms"`
	SubmitTimeoutMs   int `yaml:"submit_timeout_ms"`
	NetworkDelayMs    int `yaml:"network_delay_ms"`
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`
	RefreshWaitMs     int `yaml:"refresh_wait_ms"`
	SubmitPollMs      int `yaml:"submit_poll_ms"`

	TimeAuthority     string   `yaml:"time_authority"`
	TimeServers       []string `yaml:"time_servers"`
	TimeSyncAttempts  int      `yaml:"time_sync_attempts"`
	TimeSyncRetryMs   int      `yaml:"time_sync_retry_ms"`
	TimeSyncTimeoutMs int      `yaml:"time_sync_timeout_ms"`

	Headless        bool `yaml:"headless"`
	KeepBrowserOpen bool `yaml:"keep_browser_open"`
	DebugMode       bool `yaml:"debug_mode"`

	Selectors SelectorConfig `yaml:"selectors"`
}

// SelectorConfig lists are in priority order: the first visible entry wins.
type SelectorConfig struct {
	Primary            []string `yaml:"primary"`
	Secondary          []string `yaml:"secondary"`
	LoginIndicators    []string `yaml:"login_indicators"`
	SuccessURLKeywords []string `yaml:"success_url_keywords"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()
	timing := defaultGrabTiming()

	return &Config{
		TargetURL:          "https://www.taobao.com/",
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		SessionFile:        filepath.Join(userDataDir, "session.dat"),
		PageLoadTimeout:    30,
		ViewportWidth:      1100,
		ViewportHeight:     900,
		ViewportJitter:     100,
		MaxAttempts:        100,
		RetryIntervalMs:    10,
		SubmitTimeoutMs:    3000,
		NetworkDelayMs:     0,
		RefreshIntervalMs:  int(timing.RefreshInterval / time.Millisecond),
		RefreshWaitMs:      int(timing.RefreshWait / time.Millisecond),
		SubmitPollMs:       int(timing.SubmitPoll / time.Millisecond),
		TimeAuthority:      "ntp",
		TimeServers:        []string{"ntp.aliyun.com", "ntp.tencent.com", "pool.ntp.org"},
		TimeSyncAttempts:   5,
		TimeSyncRetryMs:    500,
		TimeSyncTimeoutMs:  2000,
		Headless:           false,
		KeepBrowserOpen:    true,
		DebugMode:          false,
		Selectors: SelectorConfig{
			Primary:            defaultPrimarySelectors(),
			Secondary:          defaultSecondarySelectors(),
			LoginIndicators:    defaultLoginIndicators(),
			SuccessURLKeywords: []string{"pay", "confirm", "buy", "order"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the budgets before any browser work starts.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryIntervalMs <= 0 {
		return fmt.Errorf("retry_interval_ms must be positive, got %d", c.RetryIntervalMs)
	}
	if c.SubmitTimeoutMs <= 0 {
		return fmt.Errorf("submit_timeout_ms must be positive, got %d", c.SubmitTimeoutMs)
	}
	if c.NetworkDelayMs < 0 {
		return fmt.Errorf("network_delay_ms must not be negative, got %d", c.NetworkDelayMs)
	}
	if len(c.Selectors.Primary) == 0 {
		return fmt.Errorf("no primary selectors configured")
	}
	if len(c.Selectors.Secondary) == 0 {
		return fmt.Errorf("no secondary selectors configured")
	}
	if c.TimeAuthority != "ntp" && c.TimeAuthority != "http" {
		return fmt.Errorf("time_authority must be \"ntp\" or \"http\", got %q", c.TimeAuthority)
	}
	return nil
}

func (c *Config) Budget() AttemptBudget {
	return AttemptBudget{
		MaxAttempts:       c.MaxAttempts,
		RetryInterval:     time.Duration(c.RetryIntervalMs) * time.Millisecond,
		SubmissionTimeout: time.Duration(c.SubmitTimeoutMs) * time.Millisecond,
	}
}

// Timing falls back to the built-in cadence for any unset field.
func (c *Config) Timing() GrabTiming {
	timing := defaultGrabTiming()
	if c.RefreshIntervalMs > 0 {
		timing.RefreshInterval = time.Duration(c.RefreshIntervalMs) * time.Millisecond
	}
	if c.RefreshWaitMs > 0 {
		timing.RefreshWait = time.Duration(c.RefreshWaitMs) * time.Millisecond
	}
	if c.SubmitPollMs > 0 {
		timing.SubmitPoll = time.Duration(c.SubmitPollMs) * time.Millisecond
	}
	return timing
}

func (c *Config) NetworkDelay() time.Duration {
	return time.Duration(c.NetworkDelayMs) * time.Millisecond
}
