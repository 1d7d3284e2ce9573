package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelhorjet/solana-forge/internal/alert"
	"github.com/samuelhorjet/solana-forge/internal/events"
	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
	"github.com/samuelhorjet/solana-forge/internal/store"
)

func TestServiceRunReconcilesUntilCanceled(t *testing.T) {
	ledger := &fakeLedger{
		signatures: []rpc.SignatureInfo{{Signature: "sig1"}},
		transactions: map[string]*rpc.TransactionResult{
			"sig1": confirmedTx(1700000000, []string{
				programDataLine(t, "WalletBurnEvent", burnWire{Mint: mintKey(1), Amount: 1_000_000_000}),
			}),
		},
	}
	r, _ := newTestReconciler(t, ledger)
	svc := NewService([]*Reconciler{r}, 10*time.Millisecond, 3, nil, "devnet", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		records, err := svc.Records(testIdentity)
		return err == nil && len(records) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestServiceAlertsAfterRepeatedFailures(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	}))
	defer webhook.Close()

	ledger := &fakeLedger{sigErr: errors.New("rpc unavailable")}
	r, _ := newTestReconciler(t, ledger)
	alerter := alert.NewMultiAlerter(time.Hour, nil, alert.NewWebhookAlerter(webhook.URL))
	svc := NewService([]*Reconciler{r}, time.Minute, 2, alerter, "devnet", nil)

	ctx := context.Background()
	svc.runCycle(ctx, r)
	mu.Lock()
	assert.Empty(t, received, "below threshold, no alert yet")
	mu.Unlock()

	svc.runCycle(ctx, r)
	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, "UNHEALTHY", received[0]["type"])
	assert.Equal(t, testIdentity, received[0]["identity"])
	mu.Unlock()

	// Further failures stay silent until recovery.
	svc.runCycle(ctx, r)
	mu.Lock()
	assert.Len(t, received, 1)
	mu.Unlock()

	// Recovery clears the streak and raises a recovery alert.
	ledger.sigErr = nil
	svc.runCycle(ctx, r)
	mu.Lock()
	require.Len(t, received, 2)
	assert.Equal(t, "RECOVERY", received[1]["type"])
	mu.Unlock()
}

func TestServiceUnknownIdentity(t *testing.T) {
	svc := NewService(nil, time.Minute, 3, nil, "devnet", nil)

	_, err := svc.Records("missing")
	assert.ErrorIs(t, err, ErrUnknownIdentity)

	_, err = svc.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestServiceRefreshForcesFullFetch(t *testing.T) {
	ledger := &fakeLedger{
		signatures: []rpc.SignatureInfo{{Signature: "sig1"}},
		transactions: map[string]*rpc.TransactionResult{
			"sig1": confirmedTx(1700000000, []string{
				programDataLine(t, "WalletBurnEvent", burnWire{Mint: mintKey(1), Amount: 1_000_000_000}),
			}),
		},
	}
	mem := store.NewMemoryStore()
	r := NewReconciler(testIdentity, ledger, events.NewDecoder(nil), &fakeResolver{}, mem, nil,
		withNowFn(func() time.Time { return time.Unix(1700009999, 0) }))
	svc := NewService([]*Reconciler{r}, time.Minute, 3, nil, "devnet", nil)

	records, err := svc.Refresh(context.Background(), testIdentity)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, ledger.lastOpts.Until)
}
