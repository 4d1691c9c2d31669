package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "SIGNAL_SCANNER_CONFIG"
	databasePathEnv    = "SIGNAL_SCANNER_DB_PATH"
	llmEndpointEnv     = "SIGNAL_SCANNER_LLM_ENDPOINT"
	llmAPIKeyEnv       = "SIGNAL_SCANNER_LLM_API_KEY"
	llmModelEnv        = "SIGNAL_SCANNER_LLM_MODEL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	reportOutputDirEnv = "SIGNAL_SCANNER_REPORT_DIR"
)

// Config holds high-level settings required across the application.
type Config struct {
	App           AppConfig          `yaml:"app"`
	Ingestion     IngestionConfig    `yaml:"ingestion"`
	Intelligence  IntelligenceConfig `yaml:"intelligence"`
	Rules         RulesConfig        `yaml:"rules"`
	Storage       StorageConfig      `yaml:"storage"`
	Report        ReportConfig       `yaml:"report"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// AppConfig identifies the running instance.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// IngestionConfig shapes the polling loop and the message source.
type IngestionConfig struct {
	Source           string   `yaml:"source"`
	ReplayPath       string   `yaml:"replayPath"`
	ScanIntervalMin  float64  `yaml:"scanIntervalMin"`
	ScanIntervalMax  float64  `yaml:"scanIntervalMax"`
	ErrorBackoffSecs int      `yaml:"errorBackoffSecs"`
	DedupWindow      int      `yaml:"dedupWindow"`
	MonitorGroups    []string `yaml:"monitorGroups"`
}

// IntelligenceConfig defines how to contact the extraction service.
type IntelligenceConfig struct {
	Enabled            bool    `yaml:"enabled"`
	EndpointURL        string  `yaml:"endpointUrl"`
	APIKey             string  `yaml:"apiKey"`
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	TimeoutSecs        int     `yaml:"timeoutSecs"`
	RateLimitPerWindow int     `yaml:"rateLimitPerWindow"`
	MaxRetries         int     `yaml:"maxRetries"`
}

// RulesConfig carries the relevance classifier pattern lists.
type RulesConfig struct {
	IntentPatterns []string `yaml:"intentPatterns"`
	RejectPatterns []string `yaml:"rejectPatterns"`
}

// StorageConfig describes the SQLite database location and retention.
type StorageConfig struct {
	DBPath           string `yaml:"dbPath"`
	RawRetentionDays int    `yaml:"rawRetentionDays"`
}

// ReportConfig controls CSV report generation and the flat signal logs.
type ReportConfig struct {
	OutputDir          string   `yaml:"outputDir"`
	LogDir             string   `yaml:"logDir"`
	TempValidDays      int      `yaml:"tempValidDays"`
	TempGoodsWhitelist []string `yaml:"tempGoodsWhitelist"`
	AutoEnabled        bool     `yaml:"autoEnabled"`
	AutoIntervalMin    int      `yaml:"autoIntervalMin"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send digests.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides. A missing or broken file falls back to defaults; only the
// wiring stage decides what is fatal.
func Load() Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Storage.DBPath = v
	}

	if v := os.Getenv(llmEndpointEnv); v != "" {
		c.Intelligence.EndpointURL = v
	}
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.Intelligence.APIKey = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.Intelligence.Model = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(reportOutputDirEnv); v != "" {
		c.Report.OutputDir = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.App.Name != "" {
		base.App.Name = override.App.Name
	}
	if override.App.Environment != "" {
		base.App.Environment = override.App.Environment
	}

	if override.Ingestion.Source != "" {
		base.Ingestion.Source = override.Ingestion.Source
	}
	if override.Ingestion.ReplayPath != "" {
		base.Ingestion.ReplayPath = override.Ingestion.ReplayPath
	}
	if override.Ingestion.ScanIntervalMin > 0 {
		base.Ingestion.ScanIntervalMin = override.Ingestion.ScanIntervalMin
	}
	if override.Ingestion.ScanIntervalMax > 0 {
		base.Ingestion.ScanIntervalMax = override.Ingestion.ScanIntervalMax
	}
	if override.Ingestion.ErrorBackoffSecs > 0 {
		base.Ingestion.ErrorBackoffSecs = override.Ingestion.ErrorBackoffSecs
	}
	if override.Ingestion.DedupWindow > 0 {
		base.Ingestion.DedupWindow = override.Ingestion.DedupWindow
	}
	if len(override.Ingestion.MonitorGroups) > 0 {
		base.Ingestion.MonitorGroups = override.Ingestion.MonitorGroups
	}

	if override.Intelligence.Enabled {
		base.Intelligence.Enabled = true
	}
	if override.Intelligence.EndpointURL != "" {
		base.Intelligence.EndpointURL = override.Intelligence.EndpointURL
	}
	if override.Intelligence.APIKey != "" {
		base.Intelligence.APIKey = override.Intelligence.APIKey
	}
	if override.Intelligence.Model != "" {
		base.Intelligence.Model = override.Intelligence.Model
	}
	if override.Intelligence.Temperature > 0 {
		base.Intelligence.Temperature = override.Intelligence.Temperature
	}
	if override.Intelligence.TimeoutSecs > 0 {
		base.Intelligence.TimeoutSecs = override.Intelligence.TimeoutSecs
	}
	if override.Intelligence.RateLimitPerWindow > 0 {
		base.Intelligence.RateLimitPerWindow = override.Intelligence.RateLimitPerWindow
	}
	if override.Intelligence.MaxRetries > 0 {
		base.Intelligence.MaxRetries = override.Intelligence.MaxRetries
	}

	if len(override.Rules.IntentPatterns) > 0 {
		base.Rules.IntentPatterns = override.Rules.IntentPatterns
	}
	if len(override.Rules.RejectPatterns) > 0 {
		base.Rules.RejectPatterns = override.Rules.RejectPatterns
	}

	if override.Storage.DBPath != "" {
		base.Storage.DBPath = override.Storage.DBPath
	}
	if override.Storage.RawRetentionDays > 0 {
		base.Storage.RawRetentionDays = override.Storage.RawRetentionDays
	}

	if override.Report.OutputDir != "" {
		base.Report.OutputDir = override.Report.OutputDir
	}
	if override.Report.LogDir != "" {
		base.Report.LogDir = override.Report.LogDir
	}
	if override.Report.TempValidDays > 0 {
		base.Report.TempValidDays = override.Report.TempValidDays
	}
	if len(override.Report.TempGoodsWhitelist) > 0 {
		base.Report.TempGoodsWhitelist = override.Report.TempGoodsWhitelist
	}
	if override.Report.AutoEnabled {
		base.Report.AutoEnabled = true
	}
	if override.Report.AutoIntervalMin > 0 {
		base.Report.AutoIntervalMin = override.Report.AutoIntervalMin
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

func defaultConfig() Config {
	return Config{
		App: AppConfig{
			Name:        "signal-scanner",
			Environment: "dev",
		},
		Ingestion: IngestionConfig{
			Source:           "replay",
			ReplayPath:       "data/messages.jsonl",
			ScanIntervalMin:  0.5,
			ScanIntervalMax:  1.5,
			ErrorBackoffSecs: 5,
			DedupWindow:      1000,
			MonitorGroups:    []string{"all"},
		},
		Intelligence: IntelligenceConfig{
			Enabled:            false,
			EndpointURL:        "https://api.openai.com/v1/chat/completions",
			Model:              "gpt-4o-mini",
			Temperature:        0.1,
			TimeoutSecs:        10,
			RateLimitPerWindow: 60,
			MaxRetries:         3,
		},
		Rules: RulesConfig{
			IntentPatterns: []string{`\b(buy|sell)\b`, `出|卖|求|收`, `price|价`},
			RejectPatterns: []string{`spam|advertisement`, `红包|链接`},
		},
		Storage: StorageConfig{
			DBPath:           "data/signals.db",
			RawRetentionDays: 60,
		},
		Report: ReportConfig{
			OutputDir:       "reports",
			LogDir:          "data",
			TempValidDays:   7,
			AutoIntervalMin: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
