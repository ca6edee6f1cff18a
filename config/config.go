package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultListenAddr         = ":8000"
	defaultHistorySize        = 100
	defaultEditWindow         = 15 * time.Minute
	defaultMaxTextLength      = 4000
	defaultBlobMaxSize        = 25 * 1024 * 1024
	defaultMaxFrameBytes      = 64 * 1024
	defaultMaxFramesPerSecond = 20
	defaultSendBuffer         = 256
	defaultStatsSchedule      = "@every 1m"
)

// Config is the global configuration object which is filled via the configuration file, the environment (CHAT_
// prefix) and command line flags.
type Config struct {
	ListenAddr        string            `mapstructure:"listen_addr"`
	LogLevel          string            `mapstructure:"log_level"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	MessageConfig     MessageConfig     `mapstructure:"message"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	BlobConfig        BlobConfig        `mapstructure:"blob"`
	GatewayConfig     GatewayConfig     `mapstructure:"gateway"`
	MetricsConfig     MetricsConfig     `mapstructure:"metrics"`
}

// HistoryConfig configures how many recent messages are replayed to a joining connection.
type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

// MessageConfig holds the message lifecycle limits. Filter is an optional boolean expression evaluated against every
// new message, a message is rejected when it evaluates to false.
type MessageConfig struct {
	EditWindow    time.Duration `mapstructure:"edit_window"`
	MaxTextLength int           `mapstructure:"max_text_length"`
	Filter        string        `mapstructure:"filter"`
}

type AuthConfig struct {
	TokenSecret string       `mapstructure:"token_secret"`
	AllowGuests bool         `mapstructure:"allow_guests"`
	AdminUsers  []string     `mapstructure:"admin_users"`
	OIDCConfigs []OIDCConfig `mapstructure:"oidc"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// PersistenceConfig configures the relational store. Type is either "sqlite" or "postgres".
type PersistenceConfig struct {
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	LockPath string `mapstructure:"lock_path"`
}

type BlobConfig struct {
	Path    string `mapstructure:"path"`
	MaxSize int64  `mapstructure:"max_size"`
}

type GatewayConfig struct {
	MaxFrameBytes      int64    `mapstructure:"max_frame_bytes"`
	MaxFramesPerSecond int      `mapstructure:"max_frames_per_second"`
	SendBuffer         int      `mapstructure:"send_buffer"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	StatsSchedule string `mapstructure:"stats_schedule"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	flagSet.String("listen-addr", "", "address the http server listens on")
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flagSet.Bool("allow-guests", false, "accept connections without credentials")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("history.size", defaultHistorySize)
	v.SetDefault("message.edit_window", defaultEditWindow)
	v.SetDefault("message.max_text_length", defaultMaxTextLength)
	v.SetDefault("auth.allow_guests", false)
	v.SetDefault("persistence.type", "sqlite")
	v.SetDefault("persistence.dsn", "chat.db")
	v.SetDefault("blob.path", "blobs.db")
	v.SetDefault("blob.max_size", defaultBlobMaxSize)
	v.SetDefault("gateway.max_frame_bytes", defaultMaxFrameBytes)
	v.SetDefault("gateway.max_frames_per_second", defaultMaxFramesPerSecond)
	v.SetDefault("gateway.send_buffer", defaultSendBuffer)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.stats_schedule", defaultStatsSchedule)
}

// bindFlags maps the top-level flags onto their nested keys.
func bindFlags(v *viper.Viper, flagSet *pflag.FlagSet) {
	if flagSet == nil {
		return
	}
	bindings := map[string]string{
		"listen_addr":  "listen_addr",
		"log_level":    "log_level",
		"allow_guests": "auth.allow_guests",
	}
	for flagName, key := range bindings {
		f := flagSet.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			globals.AppLogger.Error("could not bind flag (ignored)", "flag", flagName, "error", err)
		}
	}
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindFlags(v, flagSet)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	cfg := Config{}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	normalize(&cfg)

	globals.AppLogger.Debug("config", "all", redact(v.AllSettings()))
	return &cfg, nil
}

// secretKeys are masked before settings are logged. A postgres dsn may carry a password.
var secretKeys = map[string][]string{
	"auth":        {"token_secret"},
	"persistence": {"dsn"},
}

// redact masks the secret values of settings in place and returns it.
func redact(settings map[string]interface{}) map[string]interface{} {
	for section, keys := range secretKeys {
		m, ok := settings[section].(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range keys {
			if v, ok := m[key]; ok && v != "" {
				m[key] = "[redacted]"
			}
		}
	}
	return settings
}

// normalize replaces unusable values with defaults.
func normalize(cfg *Config) {
	if cfg.HistoryConfig.Size <= 0 {
		cfg.HistoryConfig.Size = defaultHistorySize
	}
	if cfg.MessageConfig.EditWindow <= 0 {
		cfg.MessageConfig.EditWindow = defaultEditWindow
	}
	if cfg.MessageConfig.MaxTextLength <= 0 {
		cfg.MessageConfig.MaxTextLength = defaultMaxTextLength
	}
	if cfg.GatewayConfig.SendBuffer <= 0 {
		cfg.GatewayConfig.SendBuffer = defaultSendBuffer
	}
	if cfg.GatewayConfig.MaxFrameBytes <= 0 {
		cfg.GatewayConfig.MaxFrameBytes = defaultMaxFrameBytes
	}
	if cfg.BlobConfig.MaxSize <= 0 {
		cfg.BlobConfig.MaxSize = defaultBlobMaxSize
	}
	for i, id := range cfg.AuthConfig.AdminUsers {
		cfg.AuthConfig.AdminUsers[i] = strings.TrimSpace(id)
	}
}
