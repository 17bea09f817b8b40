package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEnsureGeneratesOnce(t *testing.T) {
	ctx, id := Ensure(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	// A second Ensure on the same context keeps the id stable.
	ctx2, id2 := Ensure(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)
}

func TestEnsureAdoptsExisting(t *testing.T) {
	ctx := WithID(context.Background(), "req-42")
	_, id := Ensure(ctx)
	assert.Equal(t, "req-42", id)
}

func TestFromContextEmptyWithoutID(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestNewIDUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a, b := NewID(), NewID()
		if a == b {
			t.Fatalf("generated ids collide: %s", a)
		}
	})
}

func TestLoggerAttachesID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithID(context.Background(), "req-7")
	Logger(ctx, base).Info("hello")
	assert.Contains(t, buf.String(), "correlation_id=req-7")

	buf.Reset()
	Logger(context.Background(), base).Info("hello")
	assert.NotContains(t, buf.String(), "correlation_id")
}
