package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	DB struct {
		// Driver selects the store backend: postgres, sqlite or memory.
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		// Path is the database file used by the sqlite driver.
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`
	Providers struct {
		Room struct {
			URL    string `mapstructure:"url"`
			APIKey string `mapstructure:"api_key"`
		} `mapstructure:"room"`
		Voice struct {
			URL    string `mapstructure:"url"`
			APIKey string `mapstructure:"api_key"`
		} `mapstructure:"voice"`
		Food struct {
			URL    string `mapstructure:"url"`
			APIKey string `mapstructure:"api_key"`
		} `mapstructure:"food"`
		Geocoder struct {
			URL string `mapstructure:"url"`
		} `mapstructure:"geocoder"`
	} `mapstructure:"providers"`
	Billing struct {
		MinCredits float64 `mapstructure:"min_credits"`
	} `mapstructure:"billing"`
	Events struct {
		Enabled bool   `mapstructure:"enabled"`
		NatsURL string `mapstructure:"nats_url"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"events"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.driver", "memory")
	viper.SetDefault("billing.min_credits", 1.0)
	viper.SetDefault("events.subject", "concierge.sessions")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Providers.Room.URL = normalizeBaseURL(config.Providers.Room.URL)
	config.Providers.Voice.URL = normalizeBaseURL(config.Providers.Voice.URL)
	config.Providers.Food.URL = normalizeBaseURL(config.Providers.Food.URL)
	config.Providers.Geocoder.URL = normalizeBaseURL(config.Providers.Geocoder.URL)

	return &config, nil
}

// normalizeBaseURL ensures a provider base URL is in a predictable form.
// It removes any trailing slash and leaves the scheme and path intact, so
// users can paste URLs straight from a provider dashboard.
func normalizeBaseURL(input string) string {
	u := strings.TrimSpace(input)
	if strings.HasSuffix(u, "/") {
		u = strings.TrimRight(u, "/")
	}
	return u
}
