package config

import "time"

type Config interface {
	EnvConfig
	PortalConfig
}

type EnvConfig interface {
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
}

type PortalConfig interface {
	GetBaseURL() string
	GetHTTPTimeout() time.Duration
	GetRedisAddr() string
}

type mainConfig struct {
	EnvVars
	Portal
}

func New() Config {
	return mainConfig{}
}
