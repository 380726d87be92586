package config

import (
	"time"
)

const (
	baseURLVar     = "PORTAL_BASE_URL"
	httpTimeoutVar = "PORTAL_HTTP_TIMEOUT"
	redisAddrVar   = "REDIS_ADDR"
)

type Portal struct{}

var _ PortalConfig = Portal{}

// GetBaseURL returns the portal backend's API base URL.
func (Portal) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8000/api")
}

func (Portal) GetHTTPTimeout() time.Duration {
	raw := GetEnv(httpTimeoutVar, "30s")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRedisAddr returns the shared session store address. Empty means the
// file-backed store is used instead.
func (Portal) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "")
}
