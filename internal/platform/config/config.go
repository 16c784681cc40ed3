// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Engine holds the runtime configuration for the storyloom process.
type Engine struct {
	// DataDir is the root directory for all persisted worlds and sessions.
	DataDir string `env:"STORYLOOM_DATA_DIR" envDefault:"data"`

	// RegistryDBPath is the SQLite database holding worldview, character,
	// canon, noun and session-index records. Relative paths resolve against
	// DataDir.
	RegistryDBPath string `env:"STORYLOOM_REGISTRY_DB" envDefault:"registry.db"`

	// OpenAIAPIKey is the completion-service credential. OpenAIAPIKeyFile, if
	// set, takes precedence and is read at startup.
	OpenAIAPIKey     string `env:"STORYLOOM_OPENAI_API_KEY"`
	OpenAIAPIKeyFile string `env:"STORYLOOM_OPENAI_API_KEY_FILE"`

	// ResponsesURL overrides the completion endpoint, mainly for tests.
	ResponsesURL string `env:"STORYLOOM_RESPONSES_URL" envDefault:"https://api.openai.com/v1/responses"`

	// Model names per tier. The tiers mirror how callers think about cost:
	// routing and confirmations run low/medium, narration high, chapter
	// planning very high.
	ModelLow      string `env:"STORYLOOM_MODEL_LOW" envDefault:"gpt-5-nano"`
	ModelMedium   string `env:"STORYLOOM_MODEL_MEDIUM" envDefault:"gpt-5-mini"`
	ModelHigh     string `env:"STORYLOOM_MODEL_HIGH" envDefault:"gpt-5-mini"`
	ModelVeryHigh string `env:"STORYLOOM_MODEL_VERY_HIGH" envDefault:"gpt-5"`

	// Conversation compaction knobs. Compaction triggers once the slim log
	// holds more than CompactionThreshold (user,assistant) loops and folds the
	// oldest CompactionBatch loops into a single summary entry.
	CompactionThreshold int `env:"STORYLOOM_COMPACTION_THRESHOLD" envDefault:"10"`
	CompactionBatch     int `env:"STORYLOOM_COMPACTION_BATCH" envDefault:"5"`

	// LogLevel is a zerolog level string (trace..panic).
	LogLevel string `env:"STORYLOOM_LOG_LEVEL" envDefault:"info"`

	// LogJSON switches console output to raw JSON lines.
	LogJSON bool `env:"STORYLOOM_LOG_JSON" envDefault:"false"`
}

// ParseEnv fills target from STORYLOOM_* environment variables, applying the
// struct-tag defaults for anything unset.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

// Exitf reports a fatal error on stderr and stops the process with status 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
