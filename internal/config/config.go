package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ConsoleConfig configures the operator console and its client core.
type ConsoleConfig struct {
	APIRoot        string        `env:"LAB_API_ROOT" envDefault:"http://localhost:8338/api/v1"`
	PollInterval   time.Duration `env:"LAB_POLL_INTERVAL" envDefault:"2s"`
	RequestTimeout time.Duration `env:"LAB_REQUEST_TIMEOUT" envDefault:"0s"`
	ExperimentId   string        `env:"LAB_EXPERIMENT_ID"`
	// NodeKinds restricts the kinds accepted in workflow nodes. Empty accepts
	// any kind.
	NodeKinds []string `env:"LAB_NODE_KINDS" envSeparator:","`
}

// ServerConfig configures labd, the local backend.
type ServerConfig struct {
	Port           string        `env:"API_PORT" envDefault:"8338"`
	CorsOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	// EmbeddedWorker runs the job worker inside labd.
	EmbeddedWorker bool `env:"EMBEDDED_WORKER" envDefault:"true"`
	WorkerConfig
}

// WorkerConfig configures the job worker. RabbitMQURL left empty selects the
// in-process queue, which only works with the worker embedded in labd.
type WorkerConfig struct {
	DatabaseURL string        `env:"DATABASE_URL" envDefault:"file:lab.db?_foreign_keys=on"`
	RabbitMQURL string        `env:"RABBITMQ_URL"`
	Concurrency int           `env:"CONCURRENCY" envDefault:"1"`
	StepDelay   time.Duration `env:"WORKER_STEP_DELAY" envDefault:"500ms"`
	Steps       int           `env:"WORKER_STEPS" envDefault:"4"`
}

func Parse[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads variables from path into the environment. An empty path
// leaves the environment untouched.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		log.Printf("no env file specified, using os.Environ only")
		return nil
	}

	log.Printf("loading env from file %s", path)
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading .env file '%s': %w", path, err)
	}
	return nil
}
