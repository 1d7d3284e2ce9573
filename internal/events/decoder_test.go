package events

import (
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
)

func fixedKey(b byte) [32]uint8 {
	var k [32]uint8
	for i := range k {
		k[i] = b
	}
	return k
}

func logLine(t *testing.T, name string, wire interface{}) string {
	t.Helper()
	payload, err := borsh.Serialize(wire)
	require.NoError(t, err)
	disc := Discriminator(name)
	return "Program data: " + base64.StdEncoding.EncodeToString(append(disc[:], payload...))
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		expected model.ActivityKind
	}{
		{"BatchBurnEvent", model.KindBatchBurn},
		{"WalletBurnEvent", model.KindWalletBurn},
		{"LockedBurnEvent", model.KindVaultBurn},
		{"TokenLockedEvent", model.KindLocked},
		{"TokenTransferredEvent", model.KindTransferred},
		{"TokenMintedEvent", model.KindMinted},
		{"MetadataUpdatedEvent", model.KindMetadataUpdated},
		{"TokenWithdrawnEvent", model.KindWithdrawn},
		{"VaultClosedEvent", model.KindVaultClosed},
		{"StandardTokenCreatedEvent", model.KindCreated},
		{"Token2022CreatedEvent", model.KindCreated},
		{"walletburnevent", model.KindWalletBurn},
		{"SomethingElseEntirely", model.KindUnknown},
		{"", model.KindUnknown},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Classify(tc.name), "name %q", tc.name)
	}
}

func TestClassifyBatchBeforeWalletBurn(t *testing.T) {
	// BatchBurnEvent must not be misread as a plain burn even though both
	// names end in "BurnEvent".
	assert.Equal(t, model.KindBatchBurn, Classify("BatchBurnEvent"))
}

func TestDecodeLogsWalletBurn(t *testing.T) {
	d := NewDecoder(nil)
	mint := fixedKey(1)

	events := d.DecodeLogs([]string{
		"Program 8rFhZ invoke [1]",
		"Program log: Instruction: BurnFromWallet",
		logLine(t, "WalletBurnEvent", burnWire{
			Mint:      mint,
			Amount:    1_500_000_000,
			FromLock:  false,
			Timestamp: 1700000000,
		}),
		"Program 8rFhZ success",
	})

	require.Len(t, events, 1)
	assert.Equal(t, "WalletBurnEvent", events[0].Name)
	assert.Equal(t, model.KindWalletBurn, events[0].Kind)
	payload, ok := events[0].Payload.(BurnPayload)
	require.True(t, ok)
	assert.Equal(t, base58.Encode(mint[:]), payload.Mint)
	assert.Equal(t, uint64(1_500_000_000), payload.Amount)
	assert.False(t, payload.FromLock)
	assert.Equal(t, int64(1700000000), payload.Timestamp)
}

func TestDecodeLogsBatchBurn(t *testing.T) {
	d := NewDecoder(nil)

	events := d.DecodeLogs([]string{
		logLine(t, "BatchBurnEvent", batchBurnWire{
			Burner:    fixedKey(9),
			Mints:     []pubkey{fixedKey(1), fixedKey(2)},
			Amounts:   []uint64{100, 200},
			Timestamp: 1700000000,
		}),
	})

	require.Len(t, events, 1)
	payload, ok := events[0].Payload.(BatchBurnPayload)
	require.True(t, ok)
	require.Len(t, payload.Mints, 2)
	assert.Equal(t, []uint64{100, 200}, payload.Amounts)
}

func TestDecodeLogsBatchBurnLengthMismatch(t *testing.T) {
	d := NewDecoder(nil)

	events := d.DecodeLogs([]string{
		logLine(t, "BatchBurnEvent", batchBurnWire{
			Burner:  fixedKey(9),
			Mints:   []pubkey{fixedKey(1), fixedKey(2)},
			Amounts: []uint64{100},
		}),
	})
	assert.Empty(t, events)
}

func TestDecodeLogsCreateEvents(t *testing.T) {
	d := NewDecoder(nil)

	events := d.DecodeLogs([]string{
		logLine(t, "StandardTokenCreatedEvent", standardCreateWire{
			Mint:   fixedKey(1),
			Name:   "Alpha",
			Symbol: "AAA",
			URI:    "https://example.com/a.json",
			Supply: 1_000_000_000,
		}),
		logLine(t, "Token2022CreatedEvent", token2022CreateWire{
			Mint:         fixedKey(2),
			Name:         "Beta",
			Symbol:       "BBB",
			URI:          "https://example.com/b.json",
			Supply:       2_000_000_000,
			TokenProgram: fixedKey(7),
		}),
	})

	require.Len(t, events, 2)
	assert.Equal(t, model.KindCreated, events[0].Kind)
	assert.Equal(t, model.KindCreated, events[1].Kind)

	second, ok := events[1].Payload.(CreatePayload)
	require.True(t, ok)
	assert.Equal(t, "Beta", second.Name)
	tp := fixedKey(7)
	assert.Equal(t, base58.Encode(tp[:]), second.TokenProgram)
}

func TestDecodeLogsPreservesOrder(t *testing.T) {
	d := NewDecoder(nil)

	events := d.DecodeLogs([]string{
		logLine(t, "TokenLockedEvent", lockWire{Mint: fixedKey(1), Amount: 1, LockID: 42}),
		logLine(t, "WalletBurnEvent", burnWire{Mint: fixedKey(2), Amount: 2}),
		logLine(t, "VaultClosedEvent", vaultCloseWire{Mint: fixedKey(3), Owner: fixedKey(4), LockID: 42}),
	})

	require.Len(t, events, 3)
	assert.Equal(t, model.KindLocked, events[0].Kind)
	assert.Equal(t, model.KindWalletBurn, events[1].Kind)
	assert.Equal(t, model.KindVaultClosed, events[2].Kind)
}

func TestDecodeLogsSkipsForeignAndMalformed(t *testing.T) {
	d := NewDecoder(nil)

	foreignDisc := Discriminator("SomeOtherProgramEvent")
	foreign := "Program data: " + base64.StdEncoding.EncodeToString(foreignDisc[:])

	truncatedDisc := Discriminator("WalletBurnEvent")
	truncated := "Program data: " + base64.StdEncoding.EncodeToString(append(truncatedDisc[:], 0x01))

	events := d.DecodeLogs([]string{
		"Program data: %%%not-base64%%%",
		foreign,
		truncated,
		logLine(t, "WalletBurnEvent", burnWire{Mint: fixedKey(1), Amount: 5}),
	})

	// Only the well-formed event survives; bad siblings are skipped.
	require.Len(t, events, 1)
	payload := events[0].Payload.(BurnPayload)
	assert.Equal(t, uint64(5), payload.Amount)
}

func TestDecodeLogsLockedBurnIsVaultBurn(t *testing.T) {
	d := NewDecoder(nil)

	events := d.DecodeLogs([]string{
		logLine(t, "LockedBurnEvent", burnWire{Mint: fixedKey(1), Amount: 10, FromLock: true}),
	})

	require.Len(t, events, 1)
	assert.Equal(t, model.KindVaultBurn, events[0].Kind)
	payload := events[0].Payload.(BurnPayload)
	assert.True(t, payload.FromLock)
}

func TestDiscriminatorDerivation(t *testing.T) {
	a := Discriminator("WalletBurnEvent")
	b := Discriminator("WalletBurnEvent")
	c := Discriminator("LockedBurnEvent")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
