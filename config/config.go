// Package config loads tool settings from a YAML file, the environment,
// and flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/lanbeam/lanbeam/transport"
)

// Settings is everything tunable about the tool. Zero-value fields fall
// back to the package defaults at the point of use.
type Settings struct {
	BindHost      string `mapstructure:"bind_host"`
	PreferredPort int    `mapstructure:"preferred_port"`

	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	CodeTTL          time.Duration `mapstructure:"code_ttl"`

	SendQueueDepth int `mapstructure:"send_queue_depth"`
	JitterTarget   int `mapstructure:"jitter_target"`
	JitterMax      int `mapstructure:"jitter_max"`

	CaptureDevice      string `mapstructure:"capture_device"`
	OutputDevice       string `mapstructure:"output_device"`
	CaptureSystemAudio bool   `mapstructure:"capture_system_audio"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind_host", "")
	v.SetDefault("preferred_port", transport.DefaultPort)
	v.SetDefault("discovery_timeout", 3*time.Second)
	v.SetDefault("code_ttl", time.Hour)
	v.SetDefault("send_queue_depth", 0)
	v.SetDefault("jitter_target", 0)
	v.SetDefault("jitter_max", 0)
	v.SetDefault("capture_device", "")
	v.SetDefault("output_device", "")
	v.SetDefault("capture_system_audio", false)
	v.SetDefault("log_level", "info")
}

// Load reads settings. With path set, that file must exist and parse;
// otherwise lanbeam.yaml is searched in the working directory and
// ~/.config/lanbeam, and its absence is fine. LANBEAM_* environment
// variables override file values.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("lanbeam")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("lanbeam")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/lanbeam")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects values the rest of the stack would only trip over
// later.
func (s *Settings) Validate() error {
	if s.PreferredPort != 0 &&
		(s.PreferredPort < transport.PortBase || s.PreferredPort >= transport.PortBase+transport.PortSpan) {
		return fmt.Errorf("preferred_port %d outside [%d, %d)",
			s.PreferredPort, transport.PortBase, transport.PortBase+transport.PortSpan)
	}
	if s.DiscoveryTimeout < 0 {
		return fmt.Errorf("discovery_timeout must not be negative")
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// ApplyLogging configures the process logger from the settings.
func (s *Settings) ApplyLogging() {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
