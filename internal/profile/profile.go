// Package profile resolves runtime configuration from the environment.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration needed to start the orchestration core.
type Profile struct {
	// LLM classifier configuration (OpenAI-compatible protocol).
	// All providers (zai, deepseek, openai, siliconflow, ollama) share it.
	LLMProvider string // Provider identifier: zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // optional, has a per-provider default
	LLMModel    string // glm-4.7, deepseek-chat, gpt-4o, ...
	LLMBudgetMs int    // total classification budget in milliseconds (default: 2000)

	// Embedding configuration for the semantic tier.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string

	// Classification thresholds.
	PatternMinConfidence float64 // default 0.90
	SemanticThreshold    float64 // default 0.85

	// Decision cache.
	CacheEnabled bool

	// Checkpoint store: memory, file, sqlite, postgres, redis.
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Approval flow.
	ApprovalTimeoutMin int // minutes before a pending approval escalates
	DefaultApprover    string

	// Rule documents; empty paths fall back to the embedded defaults.
	RulesDir string

	// Server.
	Mode    string
	Addr    string
	Port    int
	Data    string
	Version string
}

// Provider default configurations for the LLM classifier, applied when the
// base URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled reports whether the LLM tier can run at all.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// IsSemanticEnabled reports whether the semantic tier can run at all.
func (p *Profile) IsSemanticEnabled() bool {
	return p.EmbeddingAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("OPSINTENT_LLM_PROVIDER", "zai")
	p.LLMAPIKey = getEnvOrDefault("OPSINTENT_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("OPSINTENT_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("OPSINTENT_LLM_MODEL", "")
	p.LLMBudgetMs = getEnvOrDefaultInt("OPSINTENT_LLM_BUDGET_MS", 2000)

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: zai", "provider", p.LLMProvider)
			p.LLMProvider = "zai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	p.EmbeddingProvider = getEnvOrDefault("OPSINTENT_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("OPSINTENT_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.EmbeddingAPIKey = getEnvOrDefault("OPSINTENT_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("OPSINTENT_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")

	p.PatternMinConfidence = getEnvOrDefaultFloat("OPSINTENT_PATTERN_MIN_CONFIDENCE", 0.90)
	p.SemanticThreshold = getEnvOrDefaultFloat("OPSINTENT_SEMANTIC_THRESHOLD", 0.85)
	p.CacheEnabled = getEnvOrDefault("OPSINTENT_CACHE_ENABLED", "true") == "true"

	p.RedisAddr = getEnvOrDefault("OPSINTENT_REDIS_ADDR", "localhost:6379")
	p.RedisPassword = getEnvOrDefault("OPSINTENT_REDIS_PASSWORD", "")
	p.RedisDB = getEnvOrDefaultInt("OPSINTENT_REDIS_DB", 0)
	p.RedisPrefix = getEnvOrDefault("OPSINTENT_REDIS_PREFIX", "opsintent")

	p.ApprovalTimeoutMin = getEnvOrDefaultInt("OPSINTENT_APPROVAL_TIMEOUT_MINUTES", 15)
	p.DefaultApprover = getEnvOrDefault("OPSINTENT_DEFAULT_APPROVER", "duty-manager")

	p.RulesDir = getEnvOrDefault("OPSINTENT_RULES_DIR", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "", "memory":
		p.Driver = "memory"
		return nil
	case "file", "sqlite", "postgres", "redis":
	default:
		return errors.Errorf("unsupported checkpoint driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "opsintent")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/opsintent"
		}
	}

	if p.Driver == "file" || p.Driver == "sqlite" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("opsintent_%s.db", p.Mode)
		p.DSN = filepath.Join(p.Data, dbFile) + "?_loc=auto"
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	return nil
}
