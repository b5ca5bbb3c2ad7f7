package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func validTestConfig() *Config {
	return &Config{
		Provider:         ProviderOllama,
		ModelName:        "qwen2.5",
		MaxTurns:         5,
		OllamaHost:       "http://localhost:11434",
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "banlv",
		PostgresPassword: "a-long-test-password",
		PostgresDBName:   "banlv",
		PostgresSSLMode:  "disable",
		EmbedderModel:    DefaultEmbedderModel,
		RAGTopK:          DefaultRAGTopK,
		RAGThreshold:     DefaultRAGThreshold,
		ServerAddr:       ":8080",
	}
}

func TestFullModelName(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		want     string
	}{
		{"openai default", ProviderOpenAI, "qwen-plus", "openai/qwen-plus"},
		{"gemini", ProviderGemini, "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{"ollama", ProviderOllama, "llama3.3", "ollama/llama3.3"},
		{"already qualified", ProviderOpenAI, "openai/qwen-max", "openai/qwen-max"},
		{"unknown provider falls back to openai", "whatever", "m", "openai/m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Provider: tt.provider, ModelName: tt.model}
			if got := cfg.FullModelName(); got != tt.want {
				t.Errorf("FullModelName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFullEmbedderName(t *testing.T) {
	cfg := &Config{Provider: ProviderOpenAI, EmbedderModel: "text-embedding-v3"}
	if got := cfg.FullEmbedderName(); got != "openai/text-embedding-v3" {
		t.Errorf("FullEmbedderName() = %q, want %q", got, "openai/text-embedding-v3")
	}

	cfg = &Config{Provider: ProviderGemini, EmbedderModel: "googleai/gemini-embedding-001"}
	if got := cfg.FullEmbedderName(); got != "googleai/gemini-embedding-001" {
		t.Errorf("FullEmbedderName() = %q, want %q", got, "googleai/gemini-embedding-001")
	}
}

func TestMarshalJSON_MasksPassword(t *testing.T) {
	cfg := validTestConfig()
	cfg.PostgresPassword = "super-secret-password"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if strings.Contains(string(data), "super-secret-password") {
		t.Errorf("marshaled config leaks password: %s", data)
	}
	if !strings.Contains(string(data), maskedValue) {
		t.Errorf("marshaled config missing mask placeholder: %s", data)
	}
}

func TestString_MasksPassword(t *testing.T) {
	cfg := validTestConfig()
	cfg.PostgresPassword = "another-secret-value"

	s := cfg.String()
	if strings.Contains(s, "another-secret-value") {
		t.Errorf("String() leaks password: %s", s)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got string)
	}{
		{
			name:  "empty stays empty",
			input: "",
			check: func(t *testing.T, got string) {
				if got != "" {
					t.Errorf("maskSecret(\"\") = %q, want \"\"", got)
				}
			},
		},
		{
			name:  "short secret fully masked",
			input: "abc12345",
			check: func(t *testing.T, got string) {
				if got != maskedValue {
					t.Errorf("maskSecret() = %q, want full mask", got)
				}
			},
		},
		{
			name:  "long secret keeps edges",
			input: "my_long_secret_key_123",
			check: func(t *testing.T, got string) {
				if !strings.HasPrefix(got, "my") || !strings.HasSuffix(got, "23") {
					t.Errorf("maskSecret() = %q, want my<mask>23 shape", got)
				}
				if strings.Contains(got, "long_secret") {
					t.Errorf("maskSecret() = %q leaks middle", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, maskSecret(tt.input))
		})
	}
}

func TestLoadMCPConfigs_BuiltinTrainServer(t *testing.T) {
	// 12306 requires no credentials, so it is always present.
	configs := LoadMCPConfigs(validTestConfig())

	found := false
	for _, c := range configs {
		if c.Name == "12306" {
			found = true
			if c.ClientOptions.Stdio == nil || c.ClientOptions.Stdio.Command != "npx" {
				t.Errorf("12306 server should run via npx, got %+v", c.ClientOptions.Stdio)
			}
		}
	}
	if !found {
		t.Error("LoadMCPConfigs() missing built-in 12306 server")
	}
}

func TestLoadMCPConfigs_AmapFromEnv(t *testing.T) {
	t.Setenv("AMAP_MAPS_API_KEY", "test-amap-key")

	configs := LoadMCPConfigs(nil)

	found := false
	for _, c := range configs {
		if c.Name == "amap-maps" {
			found = true
		}
	}
	if !found {
		t.Error("LoadMCPConfigs() should include amap-maps when AMAP_MAPS_API_KEY is set")
	}
}

func TestLoadMCPConfigs_UserDefinedServers(t *testing.T) {
	cfg := validTestConfig()
	cfg.MCPServers = []MCPServerConfig{
		{Name: "custom", Command: "/usr/local/bin/custom-mcp", Args: []string{"--stdio"}},
		{Name: "", Command: "ignored"}, // missing name, skipped
	}

	configs := LoadMCPConfigs(cfg)

	found := false
	for _, c := range configs {
		if c.Name == "custom" {
			found = true
			if c.ClientOptions.Stdio.Command != "/usr/local/bin/custom-mcp" {
				t.Errorf("custom server command = %q", c.ClientOptions.Stdio.Command)
			}
		}
		if c.Name == "ignored" {
			t.Error("server without a name should be skipped")
		}
	}
	if !found {
		t.Error("LoadMCPConfigs() missing user-defined server")
	}
}
