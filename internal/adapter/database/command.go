package database

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/semmidev/dbvault/internal/config"
	"github.com/semmidev/dbvault/internal/domain"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process has been killed by its context.
const waitDelay = 10 * time.Second

// New returns one dumper per supported engine.
func New(cfg config.DumperConfig) map[domain.Engine]domain.Dumper {
	dumpers := []domain.Dumper{
		NewPostgreSQL(cfg.PgDumpBin),
		NewMongoDB(cfg.MongodumpBin),
		NewMySQL(cfg.MysqldumpBin),
	}

	out := make(map[domain.Engine]domain.Dumper, len(dumpers))
	for _, d := range dumpers {
		out[d.Engine()] = d
	}
	return out
}

func run(ctx context.Context, cmd *exec.Cmd) error {
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	name := filepath.Base(cmd.Path)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}
	return fmt.Errorf("%s failed: %w, output: %s", name, err, strings.TrimSpace(string(output)))
}
