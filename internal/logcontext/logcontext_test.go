package logcontext

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCtxKeepsParentAttrs(t *testing.T) {
	parent := AppendCtx(context.Background(), slog.String("runId", "r1"))
	child := AppendCtx(parent, slog.Uint64("paymentId", 7))

	assert.Len(t, Attrs(parent), 1)
	assert.Equal(t, []slog.Attr{slog.String("runId", "r1"), slog.Uint64("paymentId", 7)}, Attrs(child))
	assert.Nil(t, Attrs(context.Background()))
}

func TestHandlerWritesContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("service", "payment-gateway")

	ctx := AppendCtx(context.Background(), slog.String("op", "process"))
	logger.InfoContext(ctx, "done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "process", line["op"])
	assert.Equal(t, "payment-gateway", line["service"])
	assert.Equal(t, "done", line["msg"])
}
