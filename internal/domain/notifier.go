package domain

import "context"

// Notifier delivers operator-facing status text. Implementations swallow
// and log their own errors.
type Notifier interface {
	Notify(ctx context.Context, message string)
}
