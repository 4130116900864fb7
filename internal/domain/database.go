package domain

import "context"

// Dumper exports one database engine to a file on disk.
type Dumper interface {
	Engine() Engine
	Dump(ctx context.Context, target Target, outputPath string) error
}
