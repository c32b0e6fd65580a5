package treadle

import (
	"context"

	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the treadle CI server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return Run(ctx)
		},
		Description: `
Environment variables:
	TREADLE_SERVER_HOSTNAME          (required)
	TREADLE_SERVER_ADMIN_TOKEN       (required)
	TREADLE_SERVER_LISTEN_ADDR       (default: 0.0.0.0:6050)
	TREADLE_SERVER_DB_PATH           (default: treadle.db)
	TREADLE_SERVER_DEV               (default: false)
	TREADLE_RUNS_IMAGE_BASE          (default: nixery.dev)
	TREADLE_RUNS_TIMEOUT             (default: 30m)
	TREADLE_RUNS_LOG_DIR             (default: /var/log/treadle)
	TREADLE_RUNS_QUEUE_SIZE          (default: 100)
	TREADLE_RUNS_WORKERS             (default: 2)
	TREADLE_SECRETS_PROVIDER         (default: sqlite)
	TREADLE_SECRETS_OPENBAO_ADDR
	TREADLE_SECRETS_OPENBAO_ROLE_ID
	TREADLE_SECRETS_OPENBAO_SECRET_ID
	TREADLE_SECRETS_OPENBAO_MOUNT    (default: treadle)
`,
	}
}
