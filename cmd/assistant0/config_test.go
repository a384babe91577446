package main

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/auth/credential"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_CLIENT_ID", "client")
	t.Setenv("AUTH0_CLIENT_SECRET", "secret")
	t.Setenv("RESUME_TOKEN_SECRET", strings.Repeat("k", 32))
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "openai", cfg.ModelProvider)
	assert.Equal(t, defaultModels["openai"], cfg.Model)
	assert.Equal(t, "interrupt", cfg.CIBAMode)
	assert.Equal(t, 5*time.Minute, cfg.CIBARequestedExpiry)
	assert.Equal(t, 15*time.Minute, cfg.ResumeTokenTTL)
	assert.Equal(t, "assistant0", cfg.MongoDatabase)
	assert.Equal(t, "assistant0-ciba", cfg.TemporalTaskQueue)
	assert.Equal(t, credential.SubjectAccessToken, cfg.subjectTokenType())
}

func TestLoadConfigOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MODEL_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	t.Setenv("MODEL", "claude-custom")
	t.Setenv("SUBJECT_TOKEN_TYPE", "refresh_token")
	t.Setenv("CIBA_REQUESTED_EXPIRY", "90s")
	t.Setenv("MODEL_TPM", "1200")
	t.Setenv("TOOLS_BLOCK", "shop_online,web_search")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.ModelProvider)
	assert.Equal(t, "claude-custom", cfg.Model)
	assert.Equal(t, credential.SubjectRefreshToken, cfg.subjectTokenType())
	assert.Equal(t, 90*time.Second, cfg.CIBARequestedExpiry)
	assert.Equal(t, 1200.0, cfg.ModelTPM)
	assert.Equal(t, []string{"shop_online", "web_search"}, cfg.ToolsBlock)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want string
	}{
		"short resume secret": {
			env:  map[string]string{"RESUME_TOKEN_SECRET": "short"},
			want: "RESUME_TOKEN_SECRET",
		},
		"unknown subject token type": {
			env:  map[string]string{"SUBJECT_TOKEN_TYPE": "id_token"},
			want: "SUBJECT_TOKEN_TYPE",
		},
		"block mode outside development": {
			env:  map[string]string{"CIBA_MODE": "block"},
			want: "requires DEVELOPMENT",
		},
		"unknown ciba mode": {
			env:  map[string]string{"CIBA_MODE": "poll"},
			want: "CIBA_MODE",
		},
		"unknown provider": {
			env:  map[string]string{"MODEL_PROVIDER": "llama"},
			want: "MODEL_PROVIDER",
		},
		"anthropic without key": {
			env:  map[string]string{"MODEL_PROVIDER": "anthropic"},
			want: "ANTHROPIC_API_KEY",
		},
		"redis without sealing key": {
			env:  map[string]string{"REDIS_ADDR": "localhost:6379"},
			want: "TOKEN_SEALING_KEY",
		},
		"sealing key of wrong size": {
			env: map[string]string{
				"REDIS_ADDR":        "localhost:6379",
				"TOKEN_SEALING_KEY": base64.StdEncoding.EncodeToString([]byte("sixteen byte key")),
			},
			want: "32 bytes",
		},
		"missing domain": {
			env:  map[string]string{"AUTH0_DOMAIN": ""},
			want: "AUTH0_DOMAIN",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfigBlockModeInDevelopment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CIBA_MODE", "block")
	t.Setenv("DEVELOPMENT", "true")

	_, err := loadConfig()
	require.NoError(t, err)
}

func TestSealingKey(t *testing.T) {
	key := []byte(strings.Repeat("s", 32))
	cfg := config{TokenSealingKey: base64.StdEncoding.EncodeToString(key)}
	got, err := cfg.sealingKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	cfg.TokenSealingKey = "not base64!"
	_, err = cfg.sealingKey()
	require.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	cat, err := loadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, cat.Connections)

	_, err = loadCatalog(t.TempDir() + "/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), connectionsFileEnv)
}
