package config

import "time"

type SessionConfig interface {
	GetIdleTimeout() time.Duration
	GetWarningWindow() time.Duration
	GetRefreshMargin() time.Duration
	GetChallengeTTL() time.Duration
	GetAccessCookieMaxAge() time.Duration
	GetRefreshCookieMaxAge() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetIdleTimeout() time.Duration {
	return durationEnv("IDLE_TIMEOUT", 15*time.Minute)
}

func (Session) GetWarningWindow() time.Duration {
	return durationEnv("IDLE_WARNING_WINDOW", 60*time.Second)
}

func (Session) GetRefreshMargin() time.Duration {
	return durationEnv("REFRESH_MARGIN", 30*time.Second)
}

func (Session) GetChallengeTTL() time.Duration {
	return durationEnv("CHALLENGE_TTL", 5*time.Minute)
}

func (Session) GetAccessCookieMaxAge() time.Duration {
	return durationEnv("ACCESS_COOKIE_MAX_AGE", 15*time.Minute)
}

func (Session) GetRefreshCookieMaxAge() time.Duration {
	return durationEnv("REFRESH_COOKIE_MAX_AGE", 7*24*time.Hour)
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
