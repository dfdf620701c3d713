package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexstrack/claude-todo/services/tasks/internal/storage"
)

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "postgres" или "sqlite"
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"name"`
	Path         string `yaml:"path"` // файл базы для sqlite
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"` // пусто -> кэш выключен
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"` // 0 -> без ограничения
	Burst int     `yaml:"burst"`
}

type Config struct {
	TasksPort string          `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	APIPrefix string          `yaml:"api_prefix"`
	PageSize  int             `yaml:"page_size"`
	DB        DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

func defaults() *Config {
	return &Config{
		TasksPort: "5000",
		LogLevel:  "info",
		APIPrefix: "/api",
		PageSize:  10,
		DB: DatabaseConfig{
			Driver:       "sqlite",
			Host:         "localhost",
			Port:         "5432",
			User:         "tasks_user",
			Password:     "tasks_pass",
			DBName:       "tasks_db",
			Path:         "tasks.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			TTL: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
	}
}

// Load: значения по умолчанию, затем YAML-файл (path или CONFIG_FILE), затем переменные окружения.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.TasksPort = getEnv("TASKS_PORT", c.TasksPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.APIPrefix = getEnv("API_PREFIX", c.APIPrefix)

	c.DB.Driver = getEnv("DB_DRIVER", c.DB.Driver)
	c.DB.Host = getEnv("DB_HOST", c.DB.Host)
	c.DB.Port = getEnv("DB_PORT", c.DB.Port)
	c.DB.User = getEnv("DB_USER", c.DB.User)
	c.DB.Password = getEnv("DB_PASSWORD", c.DB.Password)
	c.DB.DBName = getEnv("DB_NAME", c.DB.DBName)
	c.DB.Path = getEnv("DB_PATH", c.DB.Path)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	var errs []error
	c.PageSize, errs = getInt("PAGE_SIZE", c.PageSize, errs)
	c.DB.MaxOpenConns, errs = getInt("DB_MAX_OPEN_CONNS", c.DB.MaxOpenConns, errs)
	c.DB.MaxIdleConns, errs = getInt("DB_MAX_IDLE_CONNS", c.DB.MaxIdleConns, errs)
	c.Redis.DB, errs = getInt("REDIS_DB", c.Redis.DB, errs)
	c.RateLimit.Burst, errs = getInt("RATE_LIMIT_BURST", c.RateLimit.Burst, errs)

	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CACHE_TTL: %w", err))
		} else {
			c.Redis.TTL = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		} else {
			c.RateLimit.RPS = f
		}
	}
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := storage.ParseDialect(c.DB.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.TasksPort == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if !strings.HasPrefix(c.APIPrefix, "/") || strings.HasSuffix(c.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("api prefix must start and not end with '/', got %q", c.APIPrefix))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, errors.New("cache ttl must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs []error) (int, []error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, append(errs, fmt.Errorf("%s: %w", key, err))
	}
	return n, errs
}

func (db *DatabaseConfig) DSN() string {
	dialect, _ := storage.ParseDialect(db.Driver)
	switch dialect {
	case storage.DialectPostgres:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			db.Host, db.Port, db.User, db.Password, db.DBName)
	case storage.DialectSQLite:
		return storage.SQLiteDSN(db.Path)
	default:
		return ""
	}
}

func (db *DatabaseConfig) StorageOptions() storage.Options {
	return storage.Options{
		Driver:          db.Driver,
		DSN:             db.DSN(),
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	}
}
