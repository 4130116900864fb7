package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/semmidev/dbvault/internal/domain"
)

type PostgreSQLDatabase struct {
	bin string
}

func NewPostgreSQL(bin string) *PostgreSQLDatabase {
	if bin == "" {
		bin = "pg_dump"
	}
	return &PostgreSQLDatabase{bin: bin}
}

func (p *PostgreSQLDatabase) Dump(ctx context.Context, target domain.Target, outputPath string) error {
	return run(ctx, p.Command(ctx, target, outputPath))
}

// Command builds a custom-format pg_dump. The password travels through
// PGPASSWORD so it never shows up in the process list.
func (p *PostgreSQLDatabase) Command(ctx context.Context, target domain.Target, outputPath string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.bin,
		"--format=custom",
		fmt.Sprintf("--file=%s", outputPath),
		fmt.Sprintf("--dbname=%s", stripPassword(target.Raw)),
	)

	cmd.Env = os.Environ()
	if target.Password != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PGPASSWORD=%s", target.Password))
	}

	return cmd
}

func (p *PostgreSQLDatabase) Engine() domain.Engine {
	return domain.EnginePostgreSQL
}

func stripPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
