package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration loaded at startup.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Browser BrowserConfig `mapstructure:"browser"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Task    TaskConfig    `mapstructure:"task"`
	Memory  MemoryConfig  `mapstructure:"memory"`
}

type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type BrowserConfig struct {
	ChromePath      string        `mapstructure:"chrome_path"`
	UserDataDir     string        `mapstructure:"user_data_dir"`
	CookieFile      string        `mapstructure:"cookie_file"`
	MaxTabs         int           `mapstructure:"max_tabs"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	StabilityQuiet  time.Duration `mapstructure:"stability_quiet"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	MaxIterations    int           `mapstructure:"max_iterations"`
	MaxConsecutive   int           `mapstructure:"max_consecutive_errors"`
	HardTimeout      time.Duration `mapstructure:"hard_timeout"`
	AskHumanTimeout  time.Duration `mapstructure:"ask_human_timeout"`
	ResultCharBudget int           `mapstructure:"result_char_budget"`
}

type TaskConfig struct {
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	RunTTL            time.Duration `mapstructure:"run_ttl"`
	ArtifactTTL       time.Duration `mapstructure:"artifact_ttl"`
}

type MemoryConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from the optional file path and AIB_* environment
// variables, applying defaults for everything left unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("browser.max_tabs", 20)
	v.SetDefault("browser.navigate_timeout", 30*time.Second)
	v.SetDefault("browser.stability_quiet", 500*time.Millisecond)
	v.SetDefault("browser.session_ttl", 30*time.Minute)
	v.SetDefault("browser.cookie_file", "")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("agent.max_iterations", 30)
	v.SetDefault("agent.max_consecutive_errors", 3)
	v.SetDefault("agent.hard_timeout", 10*time.Minute)
	v.SetDefault("agent.ask_human_timeout", 5*time.Minute)
	v.SetDefault("agent.result_char_budget", 4000)

	v.SetDefault("task.max_concurrent_runs", 5)
	v.SetDefault("task.run_timeout", 600*time.Second)
	v.SetDefault("task.run_ttl", 30*time.Minute)
	v.SetDefault("task.artifact_ttl", 24*time.Hour)

	v.SetDefault("memory.dir", "")
}
