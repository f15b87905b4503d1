package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" env:"HASHIT_ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":9000"`
}

// StorageConfig selects the account store backend.
type StorageConfig struct {
	Kind string `yaml:"kind" env:"STORAGE_KIND" env-default:"sqlite"` // memory | sqlite | redis
	Path string `yaml:"path" env:"STORAGE_PATH" env-default:"./hashit.db"`
}

// RedisConfig is used for the redis account store and for event publishing.
type RedisConfig struct {
	URL           string `yaml:"url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	PublishEvents bool   `yaml:"publish_events" env:"REDIS_PUBLISH_EVENTS" env-default:"false"`
}

// AuthConfig carries token signing material and the lockout policy. Refresh
// token issuer and key default to the access token values when left empty.
type AuthConfig struct {
	Issuer                string        `yaml:"issuer" env:"AUTH_JWT_ISSUER" env-default:"hashit"`
	RefreshIssuer         string        `yaml:"refresh_issuer" env:"AUTH_JWT_REFRESH_ISSUER"`
	PrivateKeyFile        string        `yaml:"private_key_file" env:"AUTH_JWT_PRIVATE_KEY_FILE" env-default:"./private.key"`
	RefreshPrivateKeyFile string        `yaml:"refresh_private_key_file" env:"AUTH_JWT_REFRESH_PRIVATE_KEY_FILE"`
	AccessTokenTTL        time.Duration `yaml:"access_token_ttl" env:"AUTH_JWT_DEFAULT_EXPIRY" env-default:"5m"`
	RefreshTokenTTL       time.Duration `yaml:"refresh_token_ttl" env:"AUTH_JWT_REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	MaxLoginAttempts      int           `yaml:"max_login_attempts" env:"AUTH_MAX_LOGIN_ATTEMPTS" env-default:"5"`
	LockoutDuration       time.Duration `yaml:"lockout_duration" env:"AUTH_LOCKOUT_DURATION" env-default:"5m"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	if cfg.Auth.RefreshIssuer == "" {
		cfg.Auth.RefreshIssuer = cfg.Auth.Issuer
	}
	if cfg.Auth.RefreshPrivateKeyFile == "" {
		cfg.Auth.RefreshPrivateKeyFile = cfg.Auth.PrivateKeyFile
	}

	return &cfg
}
