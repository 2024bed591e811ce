package server

import (
	"crypto/tls"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

const (
	defaultAddress      = "0.0.0.0:8080"
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// Config represents API server configuration
type Config struct {
	Address string        `yaml:"address" env:"SERVER_ADDRESS"`
	Timeout time.Duration `yaml:"timeout" env:"SERVER_TIMEOUT"`
	// MaxBodyBytes limits the size of a posted site state.
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`

	CertFilePath string `yaml:"cert_file_path" env:"CERT_FILE_PATH"`
	KeyFilePath  string `yaml:"key_file_path" env:"KEY_FILE_PATH"`
	EnableHTTPS  bool   `yaml:"enable_https" env:"SERVER_ENABLE_HTTPS"`

	Certificate tls.Certificate `yaml:"-"`
}

func (cfg *Config) PrepareAndValidate() error {
	cfg.Address = lang.Check(cfg.Address, defaultAddress)
	cfg.Timeout = lang.Check(cfg.Timeout, defaultTimeout)
	cfg.MaxBodyBytes = lang.Check(cfg.MaxBodyBytes, defaultMaxBodyBytes)

	if cfg.EnableHTTPS {
		if cfg.CertFilePath == "" || cfg.KeyFilePath == "" {
			return errm.New("cert_file_path and key_file_path must be set when enable_https is true")
		}

		cert, err := tls.LoadX509KeyPair(cfg.CertFilePath, cfg.KeyFilePath)
		if err != nil {
			return errm.Wrap(err, "failed to load certificate and key pair")
		}

		cfg.Certificate = cert
	}

	return nil
}
