package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Browser origins allowed to call the API. Entries are exact origins
	// ("https://app.example.com") or port wildcards ("http://127.0.0.1:*").
	// Empty disables the CORS layer entirely.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, embedded SQL migrations run at startup before the server
	// accepts traffic.
	MigrateOnStart bool

	// If true:
	// - /readyz returns 503 unless the DB is reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, STREAMX_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and secret
	// hashing must be HMAC-based.
	RequireTokenHMAC bool

	// If true, OTP and reset emails are also written to the log at debug
	// level. Never enable outside local development.
	EmailDevLog bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("STREAMX_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("STREAMX_LOG_LEVEL", "info"),
		LogFormat: EnvString("STREAMX_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("STREAMX_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("STREAMX_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("STREAMX_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("STREAMX_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("STREAMX_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvCSV("STREAMX_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("STREAMX_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("STREAMX_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL: EnvString("STREAMX_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("STREAMX_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("STREAMX_DB_MIN_CONNS", 0),

		MigrateOnStart: EnvBool("STREAMX_MIGRATE", false),

		ReadinessRequireDB: EnvBool("STREAMX_READINESS_REQUIRE_DB", true),

		RequireTokenHMAC: EnvBool("STREAMX_REQUIRE_TOKEN_HMAC", false),

		EmailDevLog: EnvBool("STREAMX_EMAIL_DEV_LOG", false),
	}
}
