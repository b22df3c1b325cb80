package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// Generation providers.
const (
	ProviderFal    = "fal"
	ProviderImagen = "imagen"
)

// Evaluator modes.
const (
	EvaluatorStructured = "structured"
	EvaluatorNumeric    = "numeric"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Generation struct {
		Provider    string        `env:"GENERATION_PROVIDER" envDefault:"fal" validate:"oneof=fal imagen"`
		FalKey      string        `env:"FAL_KEY" validate:"required_if=Provider fal"`
		FalModel    string        `env:"FAL_MODEL" envDefault:"fal-ai/imagen4/preview"`
		FalBaseURL  string        `env:"FAL_BASE_URL" envDefault:"https://fal.run" validate:"url"`
		AspectRatio string        `env:"IMAGE_ASPECT_RATIO" envDefault:"1:1"`
		ImagenModel string        `env:"IMAGEN_MODEL" envDefault:"imagen-4.0-generate-001"`
		Timeout     time.Duration `env:"GENERATION_TIMEOUT" envDefault:"60s" validate:"gt=0"`
		RPS         float64       `env:"GENERATION_RPS" envDefault:"1" validate:"gt=0"`
	}
	Gemini struct {
		APIKey string  `env:"GEMINI_API_KEY"`
		Model  string  `env:"GEMINI_MODEL" envDefault:"gemini-2.5-pro"`
		RPS    float64 `env:"GEMINI_RPS" envDefault:"2" validate:"gt=0"`
	}
	Evaluation struct {
		Mode                string        `env:"EVALUATOR_MODE" envDefault:"structured" validate:"oneof=structured numeric"`
		AestheticWeight     float64       `env:"AESTHETIC_WEIGHT" envDefault:"0.5" validate:"min=0,max=1"`
		PreferenceWeight    float64       `env:"PREFERENCE_WEIGHT" envDefault:"0.5" validate:"min=0,max=1"`
		AestheticScorerURL  string        `env:"AESTHETIC_SCORER_URL" validate:"required_if=Mode numeric"`
		PreferenceScorerURL string        `env:"PREFERENCE_SCORER_URL" validate:"required_if=Mode numeric"`
		Timeout             time.Duration `env:"EVALUATION_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	}
	Rewrite struct {
		Enabled bool          `env:"REWRITE_ENABLED" envDefault:"true"`
		Timeout time.Duration `env:"REWRITE_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	}
	Prompt struct {
		TemplatePath string `env:"PROMPT_TEMPLATE_PATH"`
	}
	Store struct {
		CSVPath     string `env:"STORE_CSV_PATH" envDefault:"data/attempts.csv"`
		DynamoTable string `env:"STORE_DYNAMO_TABLE"`
		AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	}
	Report struct {
		ResultsDir string `env:"RESULTS_DIR" envDefault:"results"`
		S3Bucket   string `env:"RESULTS_S3_BUCKET"`
		S3Prefix   string `env:"RESULTS_S3_PREFIX" envDefault:"results/"`
	}
	Optimization struct {
		WorkerCount       int `env:"OPT_WORKER_COUNT" envDefault:"4" validate:"min=1"`
		DefaultIterations int `env:"OPT_DEFAULT_ITERATIONS" envDefault:"5" validate:"min=1"`
		MaxIterations     int `env:"OPT_MAX_ITERATIONS" envDefault:"20" validate:"min=1,gtefield=DefaultIterations"`
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and that every selected provider has
// credentials. Problems are reported as configuration errors.
func (c *Config) Validate() error {
	var problems []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return optimization.WrapError(optimization.KindConfiguration, err, "invalid configuration").
				WithComponent("config")
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	needsGemini := c.Generation.Provider == ProviderImagen ||
		c.Evaluation.Mode == EvaluatorStructured ||
		c.Rewrite.Enabled
	if needsGemini && c.Gemini.APIKey == "" {
		problems = append(problems, "GEMINI_API_KEY is required by the selected generator, evaluator or rewriter")
	}

	if len(problems) > 0 {
		return optimization.ConfigurationError("config", strings.Join(problems, "; "))
	}
	return nil
}
