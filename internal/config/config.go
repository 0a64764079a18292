package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	ServerURL string // public base URL of this tool (redirect URIs, JWKS URI)
	UIURL     string // frontend base URL launches redirect into

	DBDriver string // sqlite|postgres
	DBDSN    string

	// Tool Token Issuer
	SessionSigningKey string
	SessionTTL        time.Duration

	// Dynamic registration metadata
	ToolName    string
	ToolLogoURL string

	// Admin surface (basic auth; hash is bcrypt)
	AdminUser     string
	AdminPassHash string

	CORSOrigins []string
}

func FromEnv() Config {
	pub := strings.TrimSuffix(envOr("SERVER_URL", "http://localhost:8080"), "/")
	return Config{
		HTTPAddr:          envOr("HTTP_ADDR", ":8080"),
		ServerURL:         pub,
		UIURL:             strings.TrimSuffix(envOr("UI_URL", pub), "/"),
		DBDriver:          envOr("DB_DRIVER", "sqlite"),
		DBDSN:             envOr("DB_DSN", ""),
		SessionSigningKey: envOr("SESSION_SIGNING_KEY", "supersecret-dev-key"),
		SessionTTL:        envDuration("SESSION_TTL", 15*time.Minute),
		ToolName:          envOr("TOOL_NAME", "Quezzio"),
		ToolLogoURL:       os.Getenv("TOOL_LOGO_URL"),
		AdminUser:         envOr("ADMIN_USER", "admin"),
		AdminPassHash:     envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		CORSOrigins:       csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// bare integers are taken as seconds
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
