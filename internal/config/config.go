package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr             string
	DatabaseDriver       string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret     string
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string

	LogLevel string
	Location *time.Location

	WorkerEnabled bool
	WorkerID      string
}

// fileConfig is the optional YAML file named by MEDSCONNECT_CONFIG.
// Environment variables win over it.
type fileConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	CORS struct {
		AllowedOrigins   []string `yaml:"allowed_origins"`
		AllowCredentials bool     `yaml:"allow_credentials"`
	} `yaml:"cors"`
	JWTSecret  string `yaml:"jwt_secret"`
	SessionTTL string `yaml:"session_ttl"`
	Redis      struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	LogLevel string `yaml:"log_level"`
	Timezone string `yaml:"timezone"`
	Worker   struct {
		Enabled *bool  `yaml:"enabled"`
		ID      string `yaml:"id"`
	} `yaml:"worker"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var f fileConfig
	if path := getenv("MEDSCONNECT_CONFIG", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	workerEnabled := "true"
	if f.Worker.Enabled != nil {
		workerEnabled = strconv.FormatBool(*f.Worker.Enabled)
	}

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", or(f.HTTPAddr, ":8080")),
		DatabaseDriver:       getenv("DATABASE_DRIVER", or(f.Database.Driver, "postgres")),
		DatabaseURL:          getenv("DATABASE_URL", f.Database.URL),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", strconv.FormatBool(f.CORS.AllowCredentials)) == "true",
		JWTSecret:            getenv("JWT_SECRET", f.JWTSecret),
		RedisAddr:            getenv("REDIS_ADDR", f.Redis.Addr),
		RedisPassword:        getenv("REDIS_PASSWORD", f.Redis.Password),
		LogLevel:             getenv("LOG_LEVEL", or(f.LogLevel, "info")),
		WorkerEnabled:        getenv("WORKER_ENABLED", workerEnabled) == "true",
		WorkerID:             getenv("WORKER_ID", or(f.Worker.ID, "worker-1")),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", strings.Join(f.CORS.AllowedOrigins, ",")), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var errs []error

	ttl, err := time.ParseDuration(getenv("SESSION_TTL", or(f.SessionTTL, "168h")))
	if err != nil || ttl <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be a positive duration"))
	}
	cfg.SessionTTL = ttl

	loc, err := time.LoadLocation(getenv("TIMEZONE", or(f.Timezone, "Local")))
	if err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	cfg.Location = loc

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.DatabaseDriver))
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("missing env: DATABASE_URL"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("missing env: JWT_SECRET"))
	} else if len(cfg.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 bytes"))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
