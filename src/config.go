package src

import (
	"eino_flow/src/model"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogConfig          model.LogConfig          `envconfig:"LOG"`
	RedisConfig        model.RedisConfig        `envconfig:"REDIS"`
	EngineConfig       model.EngineConfig       `envconfig:"ENGINE"`
	EventConfig        model.EventConfig        `envconfig:"EVENT"`
	CodeConfig         model.CodeConfig         `envconfig:"CODE"`
	LLMConfig          model.LLMConfig          `envconfig:"LLM"`
	ConversationConfig model.ConversationConfig `envconfig:"CONVERSATION"`
}

func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	if config.EngineConfig.MaxPaths <= 0 {
		return nil, fmt.Errorf("ENGINE_MAX_PATHS must be positive, got %d", config.EngineConfig.MaxPaths)
	}

	return &config, nil
}
