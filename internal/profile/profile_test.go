package profile

import (
	"os"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMProvider default", "zai", profile.LLMProvider},
		{"LLMModel default", "glm-4.7", profile.LLMModel},
		{"LLMBaseURL default", "https://open.bigmodel.cn/api/paas/v4", profile.LLMBaseURL},
		{"LLMAPIKey default", "", profile.LLMAPIKey},
		{"EmbeddingProvider default", "siliconflow", profile.EmbeddingProvider},
		{"EmbeddingModel default", "BAAI/bge-m3", profile.EmbeddingModel},
		{"EmbeddingBaseURL default", "https://api.siliconflow.cn/v1", profile.EmbeddingBaseURL},
		{"DefaultApprover default", "duty-manager", profile.DefaultApprover},
		{"RedisPrefix default", "opsintent", profile.RedisPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.PatternMinConfidence != 0.90 {
		t.Errorf("PatternMinConfidence: expected 0.90, got %v", profile.PatternMinConfidence)
	}
	if profile.SemanticThreshold != 0.85 {
		t.Errorf("SemanticThreshold: expected 0.85, got %v", profile.SemanticThreshold)
	}
	if profile.LLMBudgetMs != 2000 {
		t.Errorf("LLMBudgetMs: expected 2000, got %v", profile.LLMBudgetMs)
	}
	if !profile.CacheEnabled {
		t.Error("CacheEnabled: expected true by default")
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "LLM API key",
			envVar:   "OPSINTENT_LLM_API_KEY",
			envValue: "test-llm-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-llm-key",
		},
		{
			name:     "LLM provider deepseek picks its base URL",
			envVar:   "OPSINTENT_LLM_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "https://api.deepseek.com",
		},
		{
			name:     "explicit LLM model wins over provider default",
			envVar:   "OPSINTENT_LLM_MODEL",
			envValue: "glm-5",
			field:    func(p *Profile) string { return p.LLMModel },
			expected: "glm-5",
		},
		{
			name:     "embedding API key",
			envVar:   "OPSINTENT_EMBEDDING_API_KEY",
			envValue: "test-embedding-key",
			field:    func(p *Profile) string { return p.EmbeddingAPIKey },
			expected: "test-embedding-key",
		},
		{
			name:     "unknown provider falls back to zai",
			envVar:   "OPSINTENT_LLM_PROVIDER",
			envValue: "definitely-not-a-provider",
			field:    func(p *Profile) string { return p.LLMProvider },
			expected: "zai",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestTierEnablement(t *testing.T) {
	p := &Profile{}
	if p.IsLLMEnabled() {
		t.Error("IsLLMEnabled: expected false without API key")
	}
	if p.IsSemanticEnabled() {
		t.Error("IsSemanticEnabled: expected false without API key")
	}
	p.LLMAPIKey = "k"
	p.EmbeddingAPIKey = "k"
	if !p.IsLLMEnabled() || !p.IsSemanticEnabled() {
		t.Error("expected tiers enabled with API keys set")
	}
}

func TestValidateDriver(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"", false},
		{"memory", false},
		{"redis", false},
		{"cassandra", true},
	}
	for _, tt := range tests {
		t.Run("driver_"+tt.driver, func(t *testing.T) {
			p := &Profile{Mode: "dev", Driver: tt.driver}
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() driver %q: error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}

	p := &Profile{Mode: "dev", Driver: "postgres"}
	if err := p.Validate(); err == nil {
		t.Error("Validate() postgres without DSN: expected error")
	}
}

func clearEnvVars() {
	prefix := "OPSINTENT_"
	suffixes := []string{
		"LLM_PROVIDER",
		"LLM_API_KEY",
		"LLM_BASE_URL",
		"LLM_MODEL",
		"LLM_BUDGET_MS",
		"EMBEDDING_PROVIDER",
		"EMBEDDING_MODEL",
		"EMBEDDING_API_KEY",
		"EMBEDDING_BASE_URL",
		"PATTERN_MIN_CONFIDENCE",
		"SEMANTIC_THRESHOLD",
		"CACHE_ENABLED",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_PREFIX",
		"APPROVAL_TIMEOUT_MINUTES",
		"DEFAULT_APPROVER",
		"RULES_DIR",
	}
	for _, suffix := range suffixes {
		os.Unsetenv(prefix + suffix)
	}
}
