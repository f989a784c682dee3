package snsctx

import (
	"context"
	"encoding/hex"
	"log/slog"
)

type ctxIndex int

const ctxIndexVerbose ctxIndex = iota

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// DumpFrame logs a hex dump of a frame at debug level when the context is verbose.
func DumpFrame(ctx context.Context, logger *slog.Logger, msg string, frame []byte) {
	if !IsVerbose(ctx) {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, msg, "len", len(frame), "frame", hex.EncodeToString(frame))
}
