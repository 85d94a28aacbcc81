package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"saathimed/internal/logging"
)

const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`

	Store    StoreConfig    `yaml:"store"`
	AI       AIConfig       `yaml:"ai"`
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`

	FirestoreProjectID       string `yaml:"firestore_project_id"`
	FirestoreCollection      string `yaml:"firestore_collection"`
	FirestoreCredentialsFile string `yaml:"firestore_credentials_file"`
}

type AIConfig struct {
	// Strategy is "rules" or "ai".
	Strategy string        `yaml:"strategy"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	BotToken     string `yaml:"bot_token"`
	DoctorChatID int64  `yaml:"doctor_chat_id"`
}

// Enabled reports whether doctor reports can be sent.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.DoctorChatID != 0
}

type WhatsAppConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

func Default() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Backend:             BackendMemory,
			FirestoreCollection: "patients",
		},
		AI: AIConfig{
			Strategy: "rules",
			Timeout:  20 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty), then a .env file in the working directory, then the
// process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.Port, "PORT")
	str(&c.LogLevel, "LOG_LEVEL")
	str(&c.LogFormat, "LOG_FORMAT")
	str(&c.Store.Backend, "STORE_BACKEND")
	str(&c.Store.DatabaseURL, "DATABASE_URL")
	str(&c.Store.FirestoreProjectID, "FIRESTORE_PROJECT_ID")
	str(&c.Store.FirestoreCollection, "FIRESTORE_COLLECTION")
	str(&c.Store.FirestoreCredentialsFile, "FIRESTORE_CREDENTIALS_FILE")
	str(&c.AI.Strategy, "TRIAGE_STRATEGY")
	str(&c.AI.APIKey, "DEEPSEEK_API_KEY", "OPENAI_API_KEY")
	str(&c.AI.BaseURL, "AI_BASE_URL")
	str(&c.AI.Model, "AI_MODEL")
	str(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	str(&c.WhatsApp.APIURL, "WHATSAPP_API_URL")
	str(&c.WhatsApp.APIKey, "WHATSAPP_API_KEY")

	var result *multierror.Error
	if v, ok := lookup("AI_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("AI_TIMEOUT: %w", err))
		} else {
			c.AI.Timeout = d
		}
	}
	if v, ok := lookup("DOCTOR_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("DOCTOR_CHAT_ID: %w", err))
		} else {
			c.Telegram.DoctorChatID = id
		}
	}
	return result.ErrorOrNil()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Port == "" {
		result = multierror.Append(result, errors.New("port is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		result = multierror.Append(result, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			result = multierror.Append(result, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendFirestore:
		if c.Store.FirestoreProjectID == "" {
			result = multierror.Append(result, errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.AI.Strategy {
	case "rules":
	case "ai":
		if c.AI.APIKey == "" {
			result = multierror.Append(result, errors.New("an AI API key is required for the ai triage strategy"))
		}
		if c.AI.Timeout <= 0 {
			result = multierror.Append(result, errors.New("AI timeout must be positive"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown triage strategy %q", c.AI.Strategy))
	}
	return result.ErrorOrNil()
}
