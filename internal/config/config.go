package config

import "time"

type Config interface {
	EnvConfig
	GatewayConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetRequestTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Gateway
	Session
}

func New() Config {
	return mainConfig{}
}
