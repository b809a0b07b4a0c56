// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads process-wide operational settings (spec.md §6.4).
// Per-call agent configuration (spec.md §3) is a separate type — it rides
// in with the call-setup request and is never read from viper.
package config

import (
	"log"
	"os"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SIPConfig holds the operational (non-credential) SIP/RTP settings shared
// by every outbound dialog.
type SIPConfig struct {
	ListenPort         int    `mapstructure:"listen_port" validate:"required"`
	Transport          string `mapstructure:"transport" validate:"required"`
	RTPPortRangeStart  int    `mapstructure:"rtp_port_range_start" validate:"required"`
	RTPPortRangeEnd    int    `mapstructure:"rtp_port_range_end" validate:"required"`
	PublicIPDiscoverURL string `mapstructure:"public_ip_discover_url" validate:"required"`
}

// TrunkConfig holds the outbound SIP trunk's registration credentials
// (spec.md §6.1's REGISTER flow). Host empty means no trunk is configured
// and the process skips registration, dialing directly if a downstream
// caller supplies its own destination URI.
type TrunkConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	AuthUsername  string `mapstructure:"auth_username"`
	Password      string `mapstructure:"password"`
	ExpirySeconds int    `mapstructure:"expiry_seconds"`
}

// RedisConfig is the distributed RTP port allocator's backing store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ObjectStoreConfig configures the recording-upload collaborator (C5).
type ObjectStoreConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// PostgresConfig backs the persisted call-record store (spec.md §6.3).
type PostgresConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	DBName   string `mapstructure:"db_name" validate:"required"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ProviderCredentials holds API credentials for the three external AI
// services. Values are read from the environment; none are defaulted.
type ProviderCredentials struct {
	DeepgramAPIKey   string `mapstructure:"deepgram_api_key"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	ElevenLabsAPIKey string `mapstructure:"elevenlabs_api_key"`
	CartesiaAPIKey   string `mapstructure:"cartesia_api_key"`
}

// AppConfig is the full set of process-wide operational knobs.
type AppConfig struct {
	LogLevel         string              `mapstructure:"log_level" validate:"required"`
	LogFilePath      string              `mapstructure:"log_file_path"`
	SIPConfig        SIPConfig           `mapstructure:"sip" validate:"required"`
	Trunk            TrunkConfig         `mapstructure:"trunk"`
	RedisConfig      RedisConfig         `mapstructure:"redis"`
	PostgresConfig   PostgresConfig      `mapstructure:"postgres"`
	ObjectStore      ObjectStoreConfig   `mapstructure:"object_store"`
	Providers        ProviderCredentials `mapstructure:"providers"`
	DefaultSilenceTimeoutSeconds int     `mapstructure:"default_silence_timeout_seconds" validate:"required"`
	DefaultMaxDurationSeconds    int     `mapstructure:"default_max_duration_seconds" validate:"required"`
}

// InitConfig wires a viper instance with a double-underscore key
// delimiter so nested env vars like SIP__LISTEN_PORT map onto
// SIPConfig.ListenPort, an optional .env file, then AutomaticEnv.
func InitConfig() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("voicecore: no .env file found, relying on process environment: %v", err)
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE_PATH", "")

	v.SetDefault("SIP__LISTEN_PORT", 5060)
	v.SetDefault("SIP__TRANSPORT", "udp")
	v.SetDefault("SIP__RTP_PORT_RANGE_START", 10000)
	v.SetDefault("SIP__RTP_PORT_RANGE_END", 20000)
	v.SetDefault("SIP__PUBLIC_IP_DISCOVER_URL", "https://api.ipify.org")

	v.SetDefault("TRUNK__HOST", "")
	v.SetDefault("TRUNK__EXPIRY_SECONDS", 3600)

	v.SetDefault("REDIS__ADDR", "")
	v.SetDefault("REDIS__DB", 0)

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "voicecore")
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("DEFAULT_SILENCE_TIMEOUT_SECONDS", 15)
	v.SetDefault("DEFAULT_MAX_DURATION_SECONDS", 600)
}

// GetApplicationConfig unmarshals and validates the process config.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
