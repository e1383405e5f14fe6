package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Cookie transport for the token pair.
	AccessCookieName  string
	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// ResetURLBase is the frontend page that consumes password-reset
	// tokens; the token is appended as a query parameter.
	ResetURLBase string

	// Login throttling, counted from the audit log.
	LoginIPMax    int
	LoginIPWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// LoadConfigFromEnv loads auth API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("STREAMX_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("STREAMX_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB

		AccessCookieName:  envString("STREAMX_AUTH_ACCESS_COOKIE", "access_token"),
		RefreshCookieName: envString("STREAMX_AUTH_REFRESH_COOKIE", "refresh_token"),
		CookiePath:        envString("STREAMX_AUTH_COOKIE_PATH", "/"),
		CookieDomain:      envString("STREAMX_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("STREAMX_AUTH_COOKIE_SECURE", false),
		CookieSameSite:    envSameSite("STREAMX_AUTH_COOKIE_SAMESITE", http.SameSiteStrictMode),

		ResetURLBase: envString("STREAMX_AUTH_RESET_URL_BASE", "http://localhost:5173/reset-password"),

		LoginIPMax:    envInt("STREAMX_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow: envDuration("STREAMX_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),

		LockoutShortThreshold:  envInt("STREAMX_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", 5),
		LockoutShortDuration:   envDuration("STREAMX_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", 5*time.Minute),
		LockoutLongThreshold:   envInt("STREAMX_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", 10),
		LockoutLongDuration:    envDuration("STREAMX_AUTH_LOGIN_LOCKOUT_LONG_DURATION", 30*time.Minute),
		LockoutSevereThreshold: envInt("STREAMX_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", 20),
		LockoutSevereDuration:  envDuration("STREAMX_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", 2*time.Hour),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.AccessCookieName == "" {
		cfg.AccessCookieName = "access_token"
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = "refresh_token"
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}

	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envSameSite(key string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "":
		return def
	default:
		return def
	}
}
