// Package config assembles the server configuration from defaults, an
// optional TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"

	"fruitlog/pkg/storage/sqlite"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
	BackendMemory   Backend = "memory"
)

var ErrUnsupportedDB = errors.New("unsupported database URL")

type Config struct {
	ServiceName string `toml:"serviceName" env:"SERVICE_NAME"`
	Host        string `toml:"host" env:"HOST"`
	Port        int    `toml:"port" env:"PORT"`
	LogLevel    string `toml:"logLevel" env:"LOG_LEVEL"`
	DatabaseURL string `toml:"databaseURL" env:"DATABASE_URL"`

	KafkaAddr  string `toml:"kafkaAddr" env:"KAFKA_ADDR"`
	KafkaTopic string `toml:"kafkaTopic" env:"KAFKA_TOPIC"`
	KafkaBatch int    `toml:"kafkaBatch" env:"KAFKA_BATCH"`
}

func Default() Config {
	return Config{
		ServiceName: "fruitlog",
		Host:        "0.0.0.0",
		Port:        5000,
		LogLevel:    "info",
	}
}

// Load returns the defaults overridden by the TOML file at path, then by the
// environment. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		_, err := toml.DecodeFile(path, &cfg)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// Addr is the listen address in the form 'host:port'.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Backend reports which storage backend DatabaseURL selects and the
// connection string or file path to hand to it.
func (c Config) Backend() (Backend, string, error) {
	u := strings.TrimSpace(c.DatabaseURL)

	switch {
	case u == "":
		return BackendSQLite, sqlite.DefaultPath, nil
	case u == "memory":
		return BackendMemory, "", nil
	case strings.HasPrefix(u, "sqlite://"):
		// sqlite:///relative.db and sqlite:////abs/path.db, as SQLAlchemy writes them.
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" || path == "/" {
			return BackendSQLite, ":memory:", nil
		}
		return BackendSQLite, strings.TrimPrefix(path, "/"), nil
	case strings.HasPrefix(u, "file:"):
		return BackendSQLite, u, nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return BackendPostgres, u, nil
	case strings.HasPrefix(u, "mongodb://"), strings.HasPrefix(u, "mongodb+srv://"):
		return BackendMongo, u, nil
	}

	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedDB, redact(u))
}

func (c Config) String() string {
	c.DatabaseURL = redact(c.DatabaseURL)
	return fmt.Sprintf("%#v", c)
}

func redact(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	return u.Redacted()
}
