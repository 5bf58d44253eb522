package mbd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for mbd.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogSource bool       `toml:"log_source"`
	LogUTC    bool       `toml:"log_utc"`
	LogColor  bool       `toml:"log_color"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// BridgeConfig tunes the bridge core shared by all modules.
type BridgeConfig struct {
	Name            string `toml:"name"`
	DataDir         string `toml:"data_dir"`
	StorePath       string `toml:"store_path"`
	InvokeTimeoutMS int64  `toml:"invoke_timeout_ms"`
	IntroCeilingMS  int64  `toml:"intro_ceiling_ms"`
	IntroMarginMS   int64  `toml:"intro_margin_ms"`
	PersistEveryMS  int64  `toml:"persist_every_ms"`
	SearchLimit     int    `toml:"search_limit"`
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	BridgeNode   BridgeNodeConfig   `toml:"bridge_node"`
	FeedAddon    FeedAddonConfig    `toml:"feed_addon"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// BridgeNodeConfig configures the MQTT node exposing the bridge.
type BridgeNodeConfig struct {
	Enabled bool   `toml:"enabled"`
	NodeID  string `toml:"node_id"`
	Name    string `toml:"name"`
}

// FeedAddonConfig configures the feed backed addon.
type FeedAddonConfig struct {
	Enabled           bool         `toml:"enabled"`
	AddonID           string       `toml:"addon_id"`
	Name              string       `toml:"name"`
	RefreshMS         int64        `toml:"refresh_ms"`
	ReverseSortByDate *bool        `toml:"reverse_sort_by_date"`
	Feeds             []FeedConfig `toml:"feeds"`
}

// FeedConfig names one feed document served by the feed addon.
type FeedConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	for name, v := range map[string]int64{
		"bridge.invoke_timeout_ms": c.Bridge.InvokeTimeoutMS,
		"bridge.intro_ceiling_ms":  c.Bridge.IntroCeilingMS,
		"bridge.intro_margin_ms":   c.Bridge.IntroMarginMS,
		"bridge.persist_every_ms":  c.Bridge.PersistEveryMS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Bridge.IntroCeilingMS > 0 && c.Bridge.IntroMarginMS >= c.Bridge.IntroCeilingMS {
		return errors.New("bridge.intro_margin_ms must be below intro_ceiling_ms")
	}
	if c.Modules.FeedAddon.Enabled && len(c.Modules.FeedAddon.Feeds) == 0 {
		return errors.New("modules.feed_addon requires at least one feed")
	}
	for i, feed := range c.Modules.FeedAddon.Feeds {
		if strings.TrimSpace(feed.Path) == "" {
			return fmt.Errorf("modules.feed_addon.feeds[%d]: path is required", i)
		}
	}
	return nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mbd.toml"), nil
}

// DefaultDataDir returns where mbd keeps its state when data_dir is unset.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "mb"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "mb"), nil
}

func configDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "mb"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mb"), nil
}
