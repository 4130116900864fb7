package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.yaml.in/yaml/v3"

	"github.com/semmidev/dbvault/internal/domain"
)

type MongoDBDatabase struct {
	bin string
}

func NewMongoDB(bin string) *MongoDBDatabase {
	if bin == "" {
		bin = "mongodump"
	}
	return &MongoDBDatabase{bin: bin}
}

// Dump hands the password to mongodump through a private --config file
// next to the output, removed once the tool exits.
func (m *MongoDBDatabase) Dump(ctx context.Context, target domain.Target, outputPath string) error {
	var configPath string
	if target.Password != "" {
		configPath = outputPath + ".mongodump.yaml"
		if err := writePasswordConfig(configPath, target.Password); err != nil {
			return err
		}
		defer os.Remove(configPath)
	}
	return run(ctx, m.Command(ctx, target, outputPath, configPath))
}

// Command builds an archive dump of the URI with its password removed.
// configPath, when set, is the file carrying that password.
func (m *MongoDBDatabase) Command(ctx context.Context, target domain.Target, outputPath, configPath string) *exec.Cmd {
	args := []string{
		fmt.Sprintf("--uri=%s", stripPassword(target.Raw)),
		fmt.Sprintf("--archive=%s", outputPath),
	}
	if configPath != "" {
		args = append(args, fmt.Sprintf("--config=%s", configPath))
	}
	return exec.CommandContext(ctx, m.bin, args...)
}

func (m *MongoDBDatabase) Engine() domain.Engine {
	return domain.EngineMongoDB
}

func writePasswordConfig(path, password string) error {
	data, err := yaml.Marshal(map[string]string{"password": password})
	if err != nil {
		return fmt.Errorf("failed to encode mongodump config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write mongodump config: %w", err)
	}
	return nil
}
