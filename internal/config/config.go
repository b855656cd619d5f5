package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/cache"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// LLMConfig describes one provider connection.
type LLMConfig struct {
	Dialect   string
	BaseURL   string
	APIKey    string
	Model     string
	RateLimit float64
	Burst     int
}

// Config is the process configuration. Environment variables override
// config.yaml, which overrides the defaults.
type Config struct {
	Port           string
	DBPath         string
	AllowedOrigins []string

	LLM      LLMConfig
	Fallback LLMConfig

	Stage1Model         string
	Stage2Model         string
	Stage1Cost          float64
	Stage2Cost          float64
	StageTimeout        time.Duration
	EscalationThreshold float64

	CacheEnabled       bool
	CacheBackend       string
	CacheMinChars      int
	CacheBaseTTL       time.Duration
	CachePurgeInterval time.Duration

	MaxDocumentChars int
	SingleFlight     bool
	RiskTermsPath    string

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "2000")
	v.SetDefault("db_path", "data/tc-analysis.db")
	v.SetDefault("allowed_origins", "http://localhost:1000,http://127.0.0.1:1000")

	v.SetDefault("llm_dialect", string(llm.DialectOpenAIChat))
	v.SetDefault("llm_rate_limit_rps", 0)
	v.SetDefault("llm_burst", 1)

	v.SetDefault("stage1_model", "gpt-4o-mini")
	v.SetDefault("stage2_model", "gpt-4o")
	v.SetDefault("stage1_cost", analysis.DefaultStage1Cost)
	v.SetDefault("stage2_cost", analysis.DefaultStage2Cost)
	v.SetDefault("stage_timeout", analysis.DefaultStageTimeout.String())
	v.SetDefault("escalation_threshold", analysis.DefaultEscalationThreshold)

	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_backend", CacheBackendSQLite)
	v.SetDefault("cache_min_chars", cache.DefaultMinChars)
	v.SetDefault("cache_base_ttl", cache.DefaultBaseTTL.String())
	v.SetDefault("cache_purge_interval", "1h")

	v.SetDefault("max_document_chars", analysis.DefaultMaxDocumentChars)
	v.SetDefault("analysis_single_flight", true)
	v.SetDefault("risk_terms_path", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads .env (best effort), then configFile or ./config.yaml when
// present, then the environment.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logrus.Debug("no config file found, using defaults and environment")
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		DBPath:         v.GetString("db_path"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		LLM: LLMConfig{
			Dialect:   v.GetString("llm_dialect"),
			BaseURL:   v.GetString("llm_base_url"),
			APIKey:    firstNonEmpty(v.GetString("llm_api_key"), os.Getenv("OPENAI_API_KEY")),
			RateLimit: v.GetFloat64("llm_rate_limit_rps"),
			Burst:     v.GetInt("llm_burst"),
		},
		Fallback: LLMConfig{
			Dialect:   v.GetString("llm_fallback_dialect"),
			BaseURL:   v.GetString("llm_fallback_base_url"),
			APIKey:    v.GetString("llm_fallback_api_key"),
			Model:     v.GetString("llm_fallback_model"),
			RateLimit: v.GetFloat64("llm_rate_limit_rps"),
			Burst:     v.GetInt("llm_burst"),
		},
		Stage1Model:         v.GetString("stage1_model"),
		Stage2Model:         v.GetString("stage2_model"),
		Stage1Cost:          v.GetFloat64("stage1_cost"),
		Stage2Cost:          v.GetFloat64("stage2_cost"),
		StageTimeout:        v.GetDuration("stage_timeout"),
		EscalationThreshold: v.GetFloat64("escalation_threshold"),
		CacheEnabled:        v.GetBool("cache_enabled"),
		CacheBackend:        strings.ToLower(strings.TrimSpace(v.GetString("cache_backend"))),
		CacheMinChars:       v.GetInt("cache_min_chars"),
		CacheBaseTTL:        v.GetDuration("cache_base_ttl"),
		CachePurgeInterval:  v.GetDuration("cache_purge_interval"),
		MaxDocumentChars:    v.GetInt("max_document_chars"),
		SingleFlight:        v.GetBool("analysis_single_flight"),
		RiskTermsPath:       v.GetString("risk_terms_path"),
		LogLevel:            v.GetString("log_level"),
		LogFormat:           v.GetString("log_format"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := llm.ParseDialect(c.LLM.Dialect); err != nil {
		errs = append(errs, fmt.Errorf("LLM_DIALECT: %w", err))
	}
	if c.Fallback.Dialect != "" {
		if _, err := llm.ParseDialect(c.Fallback.Dialect); err != nil {
			errs = append(errs, fmt.Errorf("LLM_FALLBACK_DIALECT: %w", err))
		}
	}
	if c.EscalationThreshold < 0 || c.EscalationThreshold > 1 {
		errs = append(errs, fmt.Errorf("ESCALATION_THRESHOLD must be within [0,1], got %v", c.EscalationThreshold))
	}
	if c.Stage1Cost < 0 || c.Stage2Cost < 0 {
		errs = append(errs, errors.New("stage costs must not be negative"))
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendMemory, CacheBackendSQLite, c.CacheBackend))
	}
	if c.MaxDocumentChars <= 0 {
		errs = append(errs, errors.New("MAX_DOCUMENT_CHARS must be positive"))
	}
	return errors.Join(errs...)
}

// CostModel returns the pricing implied by the stage costs.
func (c *Config) CostModel() analysis.CostModel {
	m := analysis.DefaultCostModel()
	m.Stage1Cost = c.Stage1Cost
	m.Stage2Cost = c.Stage2Cost
	return m
}

// CachePolicy returns the storage policy implied by the cache settings.
func (c *Config) CachePolicy() cache.Policy {
	p := cache.DefaultPolicy()
	if c.CacheMinChars > 0 {
		p.MinChars = c.CacheMinChars
	}
	if c.CacheBaseTTL > 0 {
		p.BaseTTL = c.CacheBaseTTL
		p.ExtendedTTL = 2 * c.CacheBaseTTL
	}
	return p
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the standard logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(strings.TrimSpace(c.LogFormat), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
