package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "INFRA"

// Env holds the settings that can be overridden from the environment
type Env struct {
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	MaxPending   *int   `envconfig:"MAX_PENDING"`
	ServiceScale *int   `envconfig:"SERVICE_SCALE"`
	BindHost     string `envconfig:"BIND_HOST"`
}

// LoadEnv reads the INFRA_* variables
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return &env, nil
}

func applyEnv(s *ServiceConfig) error {
	env, err := LoadEnv()
	if err != nil {
		return err
	}
	if env.MaxPending != nil {
		s.Queue.MaxPending = env.MaxPending
	}
	if env.ServiceScale != nil {
		s.Service.Scale = *env.ServiceScale
	}
	if env.BindHost != "" {
		s.BindHost = env.BindHost
	}
	return nil
}
