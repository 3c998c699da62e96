package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	require.NotNil(t, rlog)

	id := SessionIDFromContext(ctx)
	assert.NotEmpty(t, id)

	// a second call keeps the existing logger
	ctx2, rlog2 := ContextWithLogger(ctx)
	assert.Equal(t, ctx, ctx2)
	assert.Same(t, rlog, rlog2)
	assert.Equal(t, id, SessionIDFromContext(ctx2))
}

func TestContextWithDeviceIdentity(t *testing.T) {
	ctx, _ := ContextWithLogger(context.Background())
	id := SessionIDFromContext(ctx)

	ctx, rlog := ContextWithDeviceIdentity(ctx, "sim-001")
	assert.Equal(t, "sim-001", rlog.Data[deviceLoggerKey])
	assert.Equal(t, id, SessionIDFromContext(ctx), "device identity must keep the session")
	assert.Same(t, rlog, FromContext(ctx))
}

func TestFromContextWithoutLogger(t *testing.T) {
	rlog := FromContext(context.Background())
	require.NotNil(t, rlog)
	assert.Empty(t, rlog.Data)
	assert.Empty(t, SessionIDFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, level)

	level, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
