package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/semmidev/dbvault/internal/domain"
)

type MySQLDatabase struct {
	bin string
}

func NewMySQL(bin string) *MySQLDatabase {
	if bin == "" {
		bin = "mysqldump"
	}
	return &MySQLDatabase{bin: bin}
}

func (m *MySQLDatabase) Dump(ctx context.Context, target domain.Target, outputPath string) error {
	return run(ctx, m.Command(ctx, target, outputPath))
}

// Command uses the discrete connection fields; mysqldump does not accept
// a URI. The database name follows "--" so it is never read as an option.
func (m *MySQLDatabase) Command(ctx context.Context, target domain.Target, outputPath string) *exec.Cmd {
	args := []string{fmt.Sprintf("--host=%s", target.Host)}
	if target.Port != "" {
		args = append(args, fmt.Sprintf("--port=%s", target.Port))
	}
	if target.Username != "" {
		args = append(args, fmt.Sprintf("--user=%s", target.Username))
	}
	args = append(args,
		"--single-transaction",
		"--routines",
		"--triggers",
		fmt.Sprintf("--result-file=%s", outputPath),
		"--",
		target.Database,
	)

	cmd := exec.CommandContext(ctx, m.bin, args...)
	cmd.Env = os.Environ()
	if target.Password != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("MYSQL_PWD=%s", target.Password))
	}

	return cmd
}

func (m *MySQLDatabase) Engine() domain.Engine {
	return domain.EngineMySQL
}
