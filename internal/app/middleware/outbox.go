package middleware

import (
	"context"
	"errors"

	"staybook/internal/app/commands"
	"staybook/internal/app/outbox"
)

// OutboxFlush flushes after every command, failed ones included: handlers
// commit in several short units, so a failing command may already have
// committed events (a booking cancelled after a failed hold, for instance).
func OutboxFlush(box outbox.Outbox) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := nextFn(ctx, cmd)
			if flushErr := box.Flush(context.WithoutCancel(ctx)); flushErr != nil {
				return nil, errors.Join(err, flushErr)
			}
			if err != nil {
				return nil, err
			}
			return res, nil
		})
	}
}
