package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"staybook/internal/app/commands"
	"staybook/internal/app/queries"
)

// CommandMiddleware wraps a command bus. The booking stack is
// Logging, Validation, Idempotency, OutboxFlush, outermost first.
type CommandMiddleware func(next commands.Bus) commands.Bus

// QueryMiddleware wraps a query bus with extra behavior.
type QueryMiddleware func(next queries.Bus) queries.Bus

// ChainCommands wraps base with mws, outermost first.
func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

func ChainQueries(base queries.Bus, mws ...QueryMiddleware) queries.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

type commandFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}

func wrapCommand(next commands.Bus) commandFunc {
	return func(ctx context.Context, cmd commands.Command) (any, error) {
		return next.Dispatch(ctx, cmd)
	}
}

type queryFunc func(ctx context.Context, query queries.Query) (any, error)

func (f queryFunc) Ask(ctx context.Context, q queries.Query) (any, error) {
	return f(ctx, q)
}

func wrapQuery(next queries.Bus) queryFunc {
	return func(ctx context.Context, q queries.Query) (any, error) {
		return next.Ask(ctx, q)
	}
}

// Logging records every command with its key, duration and the attributes the
// command exposes through commands.Subject. Errors matching one of expected
// are business outcomes (conflicts, illegal transitions) and log at info.
func Logging(logger *slog.Logger, expected ...error) CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := nextFn(ctx, cmd)
			logOutcome(ctx, logger, "command", cmd.Key(), subjectAttrs(cmd), time.Since(start), err, expected)
			return res, err
		})
	}
}

// QueryLogging is Logging for reads. Successful reads log at debug.
func QueryLogging(logger *slog.Logger, expected ...error) QueryMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next queries.Bus) queries.Bus {
		nextFn := wrapQuery(next)
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			start := time.Now()
			res, err := nextFn(ctx, q)
			logOutcome(ctx, logger, "query", q.Key(), subjectAttrs(q), time.Since(start), err, expected)
			return res, err
		})
	}
}

func subjectAttrs(message any) []any {
	if s, ok := message.(commands.Subject); ok {
		return s.LogAttrs()
	}
	return nil
}

func logOutcome(ctx context.Context, logger *slog.Logger, kind, key string, attrs []any, took time.Duration, err error, expected []error) {
	args := append([]any{kind, key, "duration_ms", took.Milliseconds()}, attrs...)
	switch {
	case err == nil && kind == "query":
		logger.DebugContext(ctx, kind+" handled", args...)
	case err == nil:
		logger.InfoContext(ctx, kind+" handled", args...)
	case isExpected(err, expected):
		logger.InfoContext(ctx, kind+" rejected", append(args, "reason", err.Error())...)
	default:
		logger.WarnContext(ctx, kind+" failed", append(args, "error", err)...)
	}
}

func isExpected(err error, expected []error) bool {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrIdempotencyKeyReused) {
		return true
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
