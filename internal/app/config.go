package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// ServerConfig defines how the presence backend should run.
type ServerConfig struct {
	ConfigFile  string `mapstructure:"config"`
	Addr        string `mapstructure:"addr"`
	Path        string `mapstructure:"path"`
	Store       string `mapstructure:"store"`
	DBPath      string `mapstructure:"db_path"`
	Timezone    string `mapstructure:"timezone"`
	LogLevel    string `mapstructure:"log_level"`
	LogEncoding string `mapstructure:"log_encoding"`
	TrustProxy  bool   `mapstructure:"trust_proxy"`

	Mongo MongoConfig `mapstructure:"mongo"`
	Redis RedisConfig `mapstructure:"redis"`
	Limit LimitConfig `mapstructure:"limit"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig enables the user cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LimitConfig struct {
	RESTRequests int           `mapstructure:"rest_requests"`
	RESTWindow   time.Duration `mapstructure:"rest_window"`
	WSRate       float64       `mapstructure:"ws_rate"`
	WSBurst      int           `mapstructure:"ws_burst"`
}

// ClientConfig defines the parameters the dashboard needs.
type ClientConfig struct {
	ServerURL string
	JoinAs    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("addr", ":8080")
	v.SetDefault("path", "/socket")
	v.SetDefault("store", StoreSQLite)
	v.SetDefault("db_path", DefaultDBPath())
	v.SetDefault("timezone", "Local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "studyhub")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("limit.rest_requests", 30)
	v.SetDefault("limit.rest_window", time.Minute)
	v.SetDefault("limit.ws_rate", 2.0)
	v.SetDefault("limit.ws_burst", 5)
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// ServerFlags declares the server flags and maps each onto its config key.
func ServerFlags(fs *pflag.FlagSet) map[string]string {
	fs.String("config", "", "Config file (yaml, json or toml)")
	fs.String("addr", ":8080", "Listen address")
	fs.String("path", "/socket", "Websocket path")
	fs.String("store", StoreSQLite, "Backing store: sqlite or mongo")
	fs.String("db", DefaultDBPath(), "SQLite database path")
	fs.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection string")
	fs.String("mongo-db", "studyhub", "MongoDB database name")
	fs.String("redis-addr", "", "Redis address for the user cache (disabled when empty)")
	fs.Duration("redis-ttl", 10*time.Minute, "User cache TTL")
	fs.String("timezone", "Local", "IANA zone whose midnight rolls the counters over")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-encoding", "json", "Log encoding: json or console")
	fs.Bool("trust-proxy", false, "Use X-Forwarded-For for client IPs")
	return map[string]string{
		"config":       "config",
		"addr":         "addr",
		"path":         "path",
		"store":        "store",
		"db":           "db_path",
		"mongo-uri":    "mongo.uri",
		"mongo-db":     "mongo.database",
		"redis-addr":   "redis.addr",
		"redis-ttl":    "redis.ttl",
		"timezone":     "timezone",
		"log-level":    "log_level",
		"log-encoding": "log_encoding",
		"trust-proxy":  "trust_proxy",
	}
}

// LoadServerConfig layers defaults, an optional config file, STUDYHUB_*
// environment variables and command line flags, in increasing precedence.
func LoadServerConfig(args []string) (ServerConfig, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	bindings := ServerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	for flag, key := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return ServerConfig{}, err
		}
	}

	v.SetEnvPrefix("STUDYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, ServerConfig{})

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return ServerConfig{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func bindEnvs(v *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		field := ifv.Field(i)
		tag, ok := ift.Field(i).Tag.Lookup("mapstructure")
		if !ok {
			continue
		}
		switch field.Kind() {
		case reflect.Struct:
			bindEnvs(v, field.Interface(), append(parts, tag)...)
		default:
			_ = v.BindEnv(strings.Join(append(parts, tag), "."))
		}
	}
}

// Validate checks the settings RunServer cannot default.
func (cfg ServerConfig) Validate() error {
	switch cfg.Store {
	case StoreSQLite:
		if cfg.DBPath == "" {
			return errors.New("database path is required")
		}
	case StoreMongo:
		if cfg.Mongo.URI == "" || cfg.Mongo.Database == "" {
			return errors.New("mongo uri and database are required")
		}
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the rollover time zone; empty and "Local" mean the host zone.
func (cfg ServerConfig) Location() (*time.Location, error) {
	if cfg.Timezone == "" || cfg.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("STUDYHUB_DATA_DIR"); env != "" {
		return filepath.Join(env, "studyhub.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "studyhub", "studyhub.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "StudyHub", "studyhub.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "StudyHub", "studyhub.db")
		}
		return filepath.Join(home, ".local", "share", "studyhub", "studyhub.db")
	}
	return filepath.Join(".", ".studyhub", "studyhub.db")
}

// NormalizeJoinPath guarantees the websocket path starts with '/' and
// falls back to /socket when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/socket"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
