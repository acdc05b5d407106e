package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config holds the relay process settings.
type Config struct {
	Host     string `env:"WSCHAT_HOST,default=127.0.0.1" validate:"required"`
	Port     int    `env:"WSCHAT_PORT,default=8080" validate:"min=0,max=65535"`
	Path     string `env:"WSCHAT_PATH,default=/" validate:"required,startswith=/"`
	LogLevel string `env:"WSCHAT_LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`

	OutboxSize     int    `env:"WSCHAT_OUTBOX_SIZE,default=64" validate:"min=1"`
	OverflowPolicy string `env:"WSCHAT_OVERFLOW_POLICY,default=drop-oldest" validate:"oneof=drop-oldest drop-newest disconnect"`

	IdentifyTimeout time.Duration `env:"WSCHAT_IDENTIFY_TIMEOUT,default=10s" validate:"gt=0"`
	IdleTimeout     time.Duration `env:"WSCHAT_IDLE_TIMEOUT,default=0s" validate:"gte=0"`
	WriteTimeout    time.Duration `env:"WSCHAT_WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"WSCHAT_SHUTDOWN_TIMEOUT,default=5s" validate:"gt=0"`
	MaxFrameBytes   int64         `env:"WSCHAT_MAX_FRAME_BYTES,default=65536" validate:"min=64"`

	// Relay the username each frame claims instead of the identified one.
	TrustClientUsername bool `env:"WSCHAT_TRUST_CLIENT_USERNAME,default=false"`

	// SSH gateway; disabled when SSHAddr is empty.
	SSHAddr    string `env:"WSCHAT_SSH_ADDR" validate:"omitempty,hostname_port"`
	SSHHostKey string `env:"WSCHAT_SSH_HOST_KEY,default=configs/ssh_host_ed25519"`
}

// Addr is the WebSocket listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load reads the configuration from environ (os.Environ() format) and validates it.
func Load(environ []string) (Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}
