// Package config holds the client settings shared by the tracker client and
// the peer connection manager.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultPeerID = "-MY0001-123456789012"
	PeerIDLength  = 20
)

type Config struct {
	PeerID            string        `mapstructure:"peer_id"`
	Port              uint16        `mapstructure:"port"`
	Compact           bool          `mapstructure:"compact"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	TrackerTimeout    time.Duration `mapstructure:"tracker_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	OutboundQueue     int           `mapstructure:"outbound_queue"`
	InboundBuffer     int           `mapstructure:"inbound_buffer"`
	DialRate          float64       `mapstructure:"dial_rate"`
}

var defaults = map[string]any{
	"peer_id":             DefaultPeerID,
	"port":                6881,
	"compact":             false,
	"connect_timeout":     "3s",
	"handshake_timeout":   "5s",
	"tracker_timeout":     "15s",
	"idle_timeout":        "2m",
	"keep_alive_interval": "1m",
	"outbound_queue":      32,
	"inbound_buffer":      1024,
	"dial_rate":           0,
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		PeerID:            DefaultPeerID,
		Port:              6881,
		ConnectTimeout:    3 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		TrackerTimeout:    15 * time.Second,
		IdleTimeout:       2 * time.Minute,
		KeepAliveInterval: time.Minute,
		OutboundQueue:     32,
		InboundBuffer:     1024,
	}
}

// Load reads settings from defaults, an optional YAML file and MYBITTORRENT_*
// environment variables, in increasing precedence. With an empty path the
// file mybittorrent.yaml is looked up in the working directory and
// $HOME/.mybittorrent; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("mybittorrent")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mybittorrent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mybittorrent")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := &Config{}
	err := v.Unmarshal(c, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if len(c.PeerID) != PeerIDLength {
		return fmt.Errorf("config: peer_id must be %d bytes, got %d", PeerIDLength, len(c.PeerID))
	}
	if c.ConnectTimeout <= 0 || c.HandshakeTimeout <= 0 || c.TrackerTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.IdleTimeout < 0 || c.KeepAliveInterval < 0 {
		return fmt.Errorf("config: idle_timeout and keep_alive_interval must not be negative")
	}
	if c.OutboundQueue <= 0 || c.InboundBuffer <= 0 {
		return fmt.Errorf("config: queue sizes must be positive")
	}
	if c.DialRate < 0 {
		return fmt.Errorf("config: dial_rate must not be negative")
	}
	return nil
}

// PeerIDBytes returns the peer id as the 20-byte value sent on the wire.
func (c *Config) PeerIDBytes() [PeerIDLength]byte {
	var id [PeerIDLength]byte
	copy(id[:], c.PeerID)
	return id
}
