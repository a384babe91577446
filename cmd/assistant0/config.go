package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

// config holds the process configuration read from the environment.
type config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogFormat   string `env:"LOG_FORMAT"`
	Debug       bool   `env:"DEBUG"`
	Development bool   `env:"DEVELOPMENT"`

	Auth0Domain             string `env:"AUTH0_DOMAIN"`
	Auth0ClientID           string `env:"AUTH0_CLIENT_ID"`
	Auth0ClientSecret       string `env:"AUTH0_CLIENT_SECRET"`
	Auth0CustomClientID     string `env:"AUTH0_CUSTOM_API_CLIENT_ID"`
	Auth0CustomClientSecret string `env:"AUTH0_CUSTOM_API_CLIENT_SECRET"`
	Auth0Audience           string `env:"AUTH0_AUDIENCE"`
	SubjectTokenType        string `env:"SUBJECT_TOKEN_TYPE" envDefault:"access_token"`
	AppBaseURL              string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	ConnectionsFile         string `env:"CONNECTIONS_FILE"`

	ResumeTokenSecret string        `env:"RESUME_TOKEN_SECRET"`
	ResumeTokenTTL    time.Duration `env:"RESUME_TOKEN_TTL" envDefault:"15m"`
	TokenSealingKey   string        `env:"TOKEN_SEALING_KEY"`

	CIBAMode            string        `env:"CIBA_MODE" envDefault:"interrupt"`
	CIBARequestedExpiry time.Duration `env:"CIBA_REQUESTED_EXPIRY" envDefault:"5m"`
	CIBACallbackToken   string        `env:"CIBA_CALLBACK_TOKEN"`

	ShopAPIURL      string `env:"SHOP_API_URL"`
	ShopAPIAudience string `env:"SHOP_API_AUDIENCE"`
	SerpAPIKey      string `env:"SERPAPI_API_KEY"`

	ToolsAllow    []string `env:"TOOLS_ALLOW" envSeparator:","`
	ToolsBlock    []string `env:"TOOLS_BLOCK" envSeparator:","`
	ToolsetsAllow []string `env:"TOOLSETS_ALLOW" envSeparator:","`
	ToolsetsBlock []string `env:"TOOLSETS_BLOCK" envSeparator:","`

	ModelProvider   string  `env:"MODEL_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string  `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY"`
	Model           string  `env:"MODEL"`
	ModelTPM        float64 `env:"MODEL_TPM" envDefault:"60000"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"assistant0"`
	// EventLogRetention expires recorded conversation events. Zero keeps
	// them.
	EventLogRetention time.Duration `env:"EVENT_LOG_RETENTION" envDefault:"720h"`
	RedisAddr         string        `env:"REDIS_ADDR"`

	TemporalHostPort  string `env:"TEMPORAL_HOSTPORT"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE" envDefault:"default"`
	TemporalTaskQueue string `env:"TEMPORAL_TASK_QUEUE" envDefault:"assistant0-ciba"`
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-5",
	"bedrock":   "anthropic.claude-3-5-sonnet-20240620-v1:0",
}

// loadConfig parses the environment and validates the result.
func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	var errs []error
	if c.Auth0Domain == "" {
		errs = append(errs, errors.New("AUTH0_DOMAIN is required"))
	}
	if c.Auth0ClientID == "" || c.Auth0ClientSecret == "" {
		errs = append(errs, errors.New("AUTH0_CLIENT_ID and AUTH0_CLIENT_SECRET are required"))
	}
	if len(c.ResumeTokenSecret) < 32 {
		errs = append(errs, errors.New("RESUME_TOKEN_SECRET must be at least 32 bytes"))
	}
	if _, ok := credential.ParseSubjectTokenType(c.SubjectTokenType); !ok {
		errs = append(errs, fmt.Errorf("SUBJECT_TOKEN_TYPE %q is not supported", c.SubjectTokenType))
	}
	switch ciba.Mode(c.CIBAMode) {
	case ciba.ModeInterrupt:
	case ciba.ModeBlock:
		if !c.Development {
			errs = append(errs, errors.New("CIBA_MODE=block requires DEVELOPMENT"))
		}
	default:
		errs = append(errs, fmt.Errorf("CIBA_MODE %q is not supported", c.CIBAMode))
	}
	c.ModelProvider = strings.ToLower(c.ModelProvider)
	def, ok := defaultModels[c.ModelProvider]
	if !ok {
		errs = append(errs, fmt.Errorf("MODEL_PROVIDER %q is not supported", c.ModelProvider))
	}
	if c.Model == "" {
		c.Model = def
	}
	switch c.ModelProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required"))
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required"))
		}
	}
	if c.RedisAddr != "" {
		if _, err := c.sealingKey(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sealingKey decodes TOKEN_SEALING_KEY, a base64 encoded 32-byte key.
func (c *config) sealingKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.TokenSealingKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_SEALING_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_SEALING_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// subjectTokenType returns the parsed SUBJECT_TOKEN_TYPE.
func (c *config) subjectTokenType() credential.SubjectTokenType {
	t, _ := credential.ParseSubjectTokenType(c.SubjectTokenType)
	return t
}
