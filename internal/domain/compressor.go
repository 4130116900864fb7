package domain

import "context"

type Archiver interface {
	Archive(ctx context.Context, sourcePath, destPath string) error
}
