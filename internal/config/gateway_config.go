package config

import (
	"strings"
	"time"
)

type GatewayConfig interface {
	GetRefreshPath() string
	GetNoRefreshPaths() []string
	GetRefreshTimeout() time.Duration
	GetLoginRoute() string
}

type Gateway struct{}

var _ GatewayConfig = Gateway{}

// GetRefreshPath is the endpoint used to exchange a refresh token. Requests to it never
// carry an access token.
func (Gateway) GetRefreshPath() string {
	return GetEnv("REFRESH_PATH", "/auth/refresh-token")
}

// GetNoRefreshPaths lists endpoints whose 401 means bad credentials rather than an expired
// access token.
func (g Gateway) GetNoRefreshPaths() []string {
	paths := []string{g.GetRefreshPath(), "/auth/login", "/auth/register"}
	if extra := GetEnv("NO_REFRESH_PATHS", ""); extra != "" {
		for _, p := range strings.Split(extra, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

func (Gateway) GetRefreshTimeout() time.Duration {
	return GetDuration("REFRESH_TIMEOUT", 10*time.Second)
}

func (Gateway) GetLoginRoute() string {
	return GetEnv("LOGIN_ROUTE", "/login")
}
