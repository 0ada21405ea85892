package app

import (
	"context"
)

// Serve builds the App from cfg and runs it until ctx is done.
func Serve(ctx context.Context, cfg Config, log Logger) error {
	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
