package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type HTTP struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type GRPC struct {
	Addr string `yaml:"addr"` // пусто: gRPC не поднимаем
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // chat-relay
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"maxConns"`
	MinConns        int32  `yaml:"minConns"`
	MaxConnLifetime string `yaml:"maxConnLifetime"`
	MaxConnIdleTime string `yaml:"maxConnIdleTime"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Storage struct {
	Driver   string   `yaml:"driver"` // postgres|sqlite
	Postgres Postgres `yaml:"postgres"`
	SQLite   SQLite   `yaml:"sqlite"`
}

type Chat struct {
	HistoryLimit int    `yaml:"historyLimit"`
	SendBuffer   int    `yaml:"sendBuffer"`
	ReadLimit    int64  `yaml:"readLimit"`
	PingEvery    string `yaml:"pingEvery"`
	WriteWait    string `yaml:"writeWait"`
	RateBurst    int    `yaml:"rateBurst"`
	RateInterval string `yaml:"rateInterval"`
}

type Redis struct {
	Addr         string `yaml:"addr"` // пусто: лимит на REST отключён
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	CreateLimit  int    `yaml:"createLimit"`
	CreateWindow string `yaml:"createWindow"`
}

type Config struct {
	HTTP    HTTP    `yaml:"http"`
	GRPC    GRPC    `yaml:"grpc"`
	Logging Logging `yaml:"logging"`
	Storage Storage `yaml:"storage"`
	Chat    Chat    `yaml:"chat"`
	Redis   Redis   `yaml:"redis"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required")
		}
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 20
	}
	if c.Chat.HistoryLimit < 1 || c.Chat.HistoryLimit > 100 {
		return errors.New("chat.historyLimit must be between 1 and 100")
	}
	if c.Chat.SendBuffer <= 0 {
		c.Chat.SendBuffer = 64
	}
	if c.Chat.ReadLimit <= 0 {
		c.Chat.ReadLimit = 64 << 10
	}
	if c.Chat.RateBurst <= 0 {
		c.Chat.RateBurst = 10
	}

	if c.Redis.Addr != "" && c.Redis.CreateLimit <= 0 {
		c.Redis.CreateLimit = 60
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-relay"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}

func (c Chat) PingEveryOr() time.Duration    { return parseDurationOr(15*time.Second, c.PingEvery) }
func (c Chat) WriteWaitOr() time.Duration    { return parseDurationOr(5*time.Second, c.WriteWait) }
func (c Chat) RateIntervalOr() time.Duration { return parseDurationOr(time.Second, c.RateInterval) }

func (r Redis) CreateWindowOr() time.Duration { return parseDurationOr(time.Minute, r.CreateWindow) }

func (p Postgres) MaxConnLifetimeOr() time.Duration { return parseDurationOr(0, p.MaxConnLifetime) }
func (p Postgres) MaxConnIdleTimeOr() time.Duration { return parseDurationOr(0, p.MaxConnIdleTime) }

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
