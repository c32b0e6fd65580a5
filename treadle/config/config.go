package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:6050"`
	DBPath     string `env:"DB_PATH, default=treadle.db"`
	Hostname   string `env:"HOSTNAME, required"`
	Dev        bool   `env:"DEV, default=false"`

	// bearer token guarding the admin API
	AdminToken string `env:"ADMIN_TOKEN, required"`
}

type Runs struct {
	// base registry for workflow images; nixery-compatible, the
	// image path doubles as the tool install list
	ImageBase string `env:"IMAGE_BASE, default=nixery.dev"`

	// default run timeout for workflows that do not declare their own
	Timeout time.Duration `env:"TIMEOUT, default=30m"`

	LogDir    string `env:"LOG_DIR, default=/var/log/treadle"`
	QueueSize int    `env:"QUEUE_SIZE, default=100"`
	Workers   int    `env:"WORKERS, default=2"`
}

type Secrets struct {
	Provider string        `env:"PROVIDER, default=sqlite"`
	OpenBao  OpenBaoConfig `env:",prefix=OPENBAO_"`
}

type OpenBaoConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=treadle"`
}

type Config struct {
	Server  Server  `env:",prefix=TREADLE_SERVER_"`
	Runs    Runs    `env:",prefix=TREADLE_RUNS_"`
	Secrets Secrets `env:",prefix=TREADLE_SECRETS_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
