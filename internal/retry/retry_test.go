package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("rpc timed out")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("invalid params")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{
			name:          "context deadline transient",
			err:           context.DeadlineExceeded,
			expectedClass: ClassTransient,
		},
		{
			name:          "context canceled terminal",
			err:           context.Canceled,
			expectedClass: ClassTerminal,
		},
		{
			name:          "rate limited transient",
			err:           errors.New("http status 429: too many requests"),
			expectedClass: ClassTransient,
		},
		{
			name:          "jsonrpc server range transient",
			err:           &rpc.RPCError{Code: -32005, Message: "node is behind"},
			expectedClass: ClassTransient,
		},
		{
			name:          "jsonrpc invalid params terminal",
			err:           &rpc.RPCError{Code: -32602, Message: "invalid params"},
			expectedClass: ClassTerminal,
		},
		{
			name:          "missing transaction detail terminal",
			err:           errors.New("transaction detail unavailable"),
			expectedClass: ClassTerminal,
		},
		{
			name:          "unknown defaults terminal",
			err:           errors.New("unexpected failure"),
			expectedClass: ClassTerminal,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
		})
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("unavailable"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnTerminalError(t *testing.T) {
	attempts := 0
	terminal := errors.New("invalid params")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return terminal
	})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, 3, time.Hour, func() error {
		return Transient(errors.New("unavailable"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}
