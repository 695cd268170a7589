package runtime

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ShutdownStep is one named part of a graceful shutdown.
type ShutdownStep struct {
	Name string
	Fn   func(context.Context) error
}

// Shutdown runs steps in order under one shared deadline. Every step runs even
// when an earlier one fails; failures are logged and joined.
func Shutdown(timeout time.Duration, logger *slog.Logger, steps ...ShutdownStep) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, step := range steps {
		if step.Fn == nil {
			continue
		}
		if err := step.Fn(ctx); err != nil {
			logger.Error("shutdown step failed", "step", step.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("shutdown step done", "step", step.Name)
	}
	return errors.Join(errs...)
}
