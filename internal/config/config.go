package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"example.com/twotruths/internal/commitment"
)

const devSecret = "dev-secret-change-me"

// Config describes all runtime settings for the server. It is loaded once in
// main, validated, and passed down explicitly.
type Config struct {
	Env string `env:"APP_ENV" envDefault:"dev"` // dev|stage|prod

	Log struct {
		Format string `env:"LOG_FORMAT" envDefault:"text"` // text|json
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		// File enables a rotated log file next to stdout.
		File string `env:"LOG_FILE"`
	}

	HTTP struct {
		Addr              string        `env:"HTTP_ADDR" envDefault:":8080"`
		ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
		ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"`
		WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"`
		IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
		ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	// Postgres is optional in dev: without it accounts and statistics are off.
	Postgres struct {
		URL           string `env:"DATABASE_URL"`
		RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"false"`
	}

	// Redis is optional in dev: without it session snapshots stay in memory.
	Redis struct {
		Addr       string        `env:"REDIS_ADDR"`
		DB         int           `env:"REDIS_DB" envDefault:"0"`
		SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	}

	Auth struct {
		Secret   string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
		TokenTTL time.Duration `env:"JWT_TTL" envDefault:"24h"`
	}

	Game struct {
		MaxViolations     int           `env:"GAME_MAX_VIOLATIONS" envDefault:"3"`
		CrossCheckTimeout time.Duration `env:"GAME_CROSS_CHECK_TIMEOUT" envDefault:"2s"`
		PublishAttempts   int           `env:"GAME_PUBLISH_ATTEMPTS" envDefault:"2"`
		RepublishBackoff  time.Duration `env:"GAME_REPUBLISH_BACKOFF" envDefault:"2s"`
		Algorithm         string        `env:"GAME_COMMITMENT_ALGORITHM" envDefault:"poseidon-bn254"`
	}

	Ledger struct {
		Network   string `env:"LEDGER_NETWORK" envDefault:"memory"` // memory|rpc
		RPCURL    string `env:"LEDGER_RPC_URL"`
		Namespace string `env:"LEDGER_NAMESPACE" envDefault:"twotruths"`
		// Hex-encoded Ed25519 scalars. Generated per process when empty in dev.
		FeePayerKey      string        `env:"LEDGER_FEE_PAYER_KEY"`
		OwnerKey         string        `env:"LEDGER_OWNER_KEY"`
		Fee              uint64        `env:"LEDGER_FEE" envDefault:"1"`
		PollInterval     time.Duration `env:"LEDGER_POLL_INTERVAL" envDefault:"5s"`
		PollAttempts     int           `env:"LEDGER_POLL_ATTEMPTS" envDefault:"12"`
		InclusionTimeout time.Duration `env:"LEDGER_INCLUSION_TIMEOUT" envDefault:"70s"`
		SubmitAttempts   int           `env:"LEDGER_SUBMIT_ATTEMPTS" envDefault:"4"`
		RetryBase        time.Duration `env:"LEDGER_RETRY_BASE" envDefault:"500ms"`
		// InclusionDelay applies to the in-process ledger only.
		InclusionDelay time.Duration `env:"LEDGER_MEMORY_INCLUSION_DELAY" envDefault:"2s"`
	}

	Narrative struct {
		Backend       string        `env:"NARRATIVE_BACKEND" envDefault:"scripted"` // scripted|openai|ollama
		OpenAIKey     string        `env:"OPENAI_API_KEY"`
		OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
		OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
		OllamaURL     string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
		OllamaModel   string        `env:"OLLAMA_MODEL" envDefault:"llama3"`
		Timeout       time.Duration `env:"NARRATIVE_TIMEOUT" envDefault:"60s"`
	}

	Telemetry struct {
		OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"twotruths"`
	}
}

func LoadFromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Dev() bool { return c.Env == "dev" }

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("HTTP_ADDR is empty")
	}
	if c.Auth.Secret == "" {
		return errors.New("JWT_SECRET is empty")
	}
	if !c.Dev() && c.Auth.Secret == devSecret {
		return fmt.Errorf("refuse to run with default JWT_SECRET in %s", c.Env)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported LOG_FORMAT=%q (want text|json)", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported LOG_LEVEL=%q (want debug|info|warn|error)", c.Log.Level)
	}
	if c.Postgres.RunMigrations && c.Postgres.URL == "" {
		return errors.New("RUN_MIGRATIONS needs DATABASE_URL")
	}
	if !c.Dev() && (c.Postgres.URL == "" || c.Redis.Addr == "") {
		return fmt.Errorf("DATABASE_URL and REDIS_ADDR are required in %s", c.Env)
	}

	if c.Game.MaxViolations < 1 {
		return errors.New("GAME_MAX_VIOLATIONS must be at least 1")
	}
	if c.Game.PublishAttempts < 1 {
		return errors.New("GAME_PUBLISH_ATTEMPTS must be at least 1")
	}
	if c.Game.CrossCheckTimeout <= 0 || c.Game.RepublishBackoff <= 0 {
		return errors.New("game timeouts must be positive")
	}
	if _, err := commitment.ParseAlgorithm(c.Game.Algorithm); err != nil {
		return fmt.Errorf("GAME_COMMITMENT_ALGORITHM: %w", err)
	}

	switch c.Ledger.Network {
	case "memory":
		if !c.Dev() {
			return fmt.Errorf("refuse to run with the in-process ledger in %s", c.Env)
		}
	case "rpc":
		if c.Ledger.RPCURL == "" {
			return errors.New("LEDGER_RPC_URL is empty")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_NETWORK=%q (want memory|rpc)", c.Ledger.Network)
	}
	if !c.Dev() && (c.Ledger.FeePayerKey == "" || c.Ledger.OwnerKey == "") {
		return fmt.Errorf("ledger keys are required in %s", c.Env)
	}
	if c.Ledger.PollAttempts < 1 || c.Ledger.SubmitAttempts < 1 {
		return errors.New("ledger attempts must be at least 1")
	}
	if c.Ledger.PollInterval <= 0 || c.Ledger.RetryBase <= 0 || c.Ledger.InclusionTimeout <= 0 {
		return errors.New("ledger intervals must be positive")
	}

	switch c.Narrative.Backend {
	case "scripted", "ollama":
	case "openai":
		if c.Narrative.OpenAIKey == "" {
			return errors.New("OPENAI_API_KEY is empty")
		}
	default:
		return fmt.Errorf("unsupported NARRATIVE_BACKEND=%q (want scripted|openai|ollama)", c.Narrative.Backend)
	}
	return nil
}
