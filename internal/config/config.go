package config

import (
	"os"
	"strings"
)

type Config struct {
	// Listen configuration. SocketPath wins when both are set: the agent
	// channel is a local unix socket in production, TCP is for dev runs.
	SocketPath string
	HTTPAddr   string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "/var/db/privd/privd.db"

	// PolicyPath points at the managed policy YAML document loaded at
	// startup. Later replacements arrive through the config endpoint.
	PolicyPath string
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("PRIVD_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		SocketPath: os.Getenv("PRIVD_SOCKET"),
		HTTPAddr:   getenvDefault("PRIVD_HTTP_ADDR", "127.0.0.1:8995"),
		Env:        env,
		DBPath:     getenvDefault("PRIVD_DB_PATH", "./data/privd.db"),
		PolicyPath: os.Getenv("PRIVD_POLICY_PATH"),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
