package events

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/metrics"
)

// Anchor emits events as "Program data: <base64>" log lines where the
// payload is an 8-byte discriminator (sha256("event:<Name>")[:8]) followed
// by the Borsh-serialized event struct.
const programDataPrefix = "Program data: "

type pubkey [32]uint8

func (p pubkey) String() string {
	return base58.Encode(p[:])
}

// Borsh wire structs, field order per the program IDL.

type batchBurnWire struct {
	Burner    pubkey
	Mints     []pubkey
	Amounts   []uint64
	Timestamp int64
}

type burnWire struct {
	Mint      pubkey
	Amount    uint64
	FromLock  bool
	Timestamp int64
}

type lockWire struct {
	Mint       pubkey
	Amount     uint64
	LockID     uint64
	UnlockDate int64
	Timestamp  int64
}

type transferWire struct {
	Mint      pubkey
	From      pubkey
	To        pubkey
	Amount    uint64
	Timestamp int64
}

type mintWire struct {
	Mint      pubkey
	Amount    uint64
	Timestamp int64
}

type metadataWire struct {
	Mint      pubkey
	Name      string
	Symbol    string
	URI       string
	Timestamp int64
}

type withdrawWire struct {
	Mint      pubkey
	Owner     pubkey
	Amount    uint64
	LockID    uint64
	Timestamp int64
}

type vaultCloseWire struct {
	Mint      pubkey
	Owner     pubkey
	LockID    uint64
	Timestamp int64
}

type standardCreateWire struct {
	Mint      pubkey
	Name      string
	Symbol    string
	URI       string
	Supply    uint64
	Timestamp int64
}

type token2022CreateWire struct {
	Mint         pubkey
	Name         string
	Symbol       string
	URI          string
	Supply       uint64
	TokenProgram pubkey
	Timestamp    int64
}

type eventSpec struct {
	name   string
	decode func(data []byte) (Payload, error)
}

// Discriminator returns the Anchor event discriminator for name.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func registry() map[[8]byte]eventSpec {
	specs := map[string]func([]byte) (Payload, error){
		"BatchBurnEvent": func(data []byte) (Payload, error) {
			var w batchBurnWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			if len(w.Mints) != len(w.Amounts) {
				return nil, fmt.Errorf("mints/amounts length mismatch: %d vs %d", len(w.Mints), len(w.Amounts))
			}
			mints := make([]string, len(w.Mints))
			for i, m := range w.Mints {
				mints[i] = m.String()
			}
			return BatchBurnPayload{
				Burner:    w.Burner.String(),
				Mints:     mints,
				Amounts:   w.Amounts,
				Timestamp: w.Timestamp,
			}, nil
		},
		"WalletBurnEvent": decodeBurn,
		"LockedBurnEvent": decodeBurn,
		"TokenLockedEvent": func(data []byte) (Payload, error) {
			var w lockWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return LockPayload{
				Mint:       w.Mint.String(),
				Amount:     w.Amount,
				LockID:     w.LockID,
				UnlockDate: w.UnlockDate,
				Timestamp:  w.Timestamp,
			}, nil
		},
		"TokenTransferredEvent": func(data []byte) (Payload, error) {
			var w transferWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return TransferPayload{
				Mint:      w.Mint.String(),
				From:      w.From.String(),
				To:        w.To.String(),
				Amount:    w.Amount,
				Timestamp: w.Timestamp,
			}, nil
		},
		"TokenMintedEvent": func(data []byte) (Payload, error) {
			var w mintWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return MintPayload{
				Mint:      w.Mint.String(),
				Amount:    w.Amount,
				Timestamp: w.Timestamp,
			}, nil
		},
		"MetadataUpdatedEvent": func(data []byte) (Payload, error) {
			var w metadataWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return MetadataPayload{
				Mint:      w.Mint.String(),
				Name:      w.Name,
				Symbol:    w.Symbol,
				URI:       w.URI,
				Timestamp: w.Timestamp,
			}, nil
		},
		"TokenWithdrawnEvent": func(data []byte) (Payload, error) {
			var w withdrawWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return WithdrawPayload{
				Mint:      w.Mint.String(),
				Owner:     w.Owner.String(),
				Amount:    w.Amount,
				LockID:    w.LockID,
				Timestamp: w.Timestamp,
			}, nil
		},
		"VaultClosedEvent": func(data []byte) (Payload, error) {
			var w vaultCloseWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return VaultClosePayload{
				Mint:      w.Mint.String(),
				Owner:     w.Owner.String(),
				LockID:    w.LockID,
				Timestamp: w.Timestamp,
			}, nil
		},
		"StandardTokenCreatedEvent": func(data []byte) (Payload, error) {
			var w standardCreateWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return CreatePayload{
				Mint:      w.Mint.String(),
				Name:      w.Name,
				Symbol:    w.Symbol,
				URI:       w.URI,
				Supply:    w.Supply,
				Timestamp: w.Timestamp,
			}, nil
		},
		"Token2022CreatedEvent": func(data []byte) (Payload, error) {
			var w token2022CreateWire
			if err := borsh.Deserialize(&w, data); err != nil {
				return nil, err
			}
			return CreatePayload{
				Mint:         w.Mint.String(),
				Name:         w.Name,
				Symbol:       w.Symbol,
				URI:          w.URI,
				Supply:       w.Supply,
				TokenProgram: w.TokenProgram.String(),
				Timestamp:    w.Timestamp,
			}, nil
		},
	}

	out := make(map[[8]byte]eventSpec, len(specs))
	for name, decode := range specs {
		out[Discriminator(name)] = eventSpec{name: name, decode: decode}
	}
	return out
}

func decodeBurn(data []byte) (Payload, error) {
	var w burnWire
	if err := borsh.Deserialize(&w, data); err != nil {
		return nil, err
	}
	return BurnPayload{
		Mint:      w.Mint.String(),
		Amount:    w.Amount,
		FromLock:  w.FromLock,
		Timestamp: w.Timestamp,
	}, nil
}

// Decoder turns raw transaction log lines into typed events.
type Decoder struct {
	registry map[[8]byte]eventSpec
	logger   *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		registry: registry(),
		logger:   logger.With("component", "decoder"),
	}
}

// DecodeLogs extracts events from one transaction's ordered log lines,
// preserving emission order. A malformed event payload is logged and
// skipped; sibling events in the same transaction are unaffected. Event
// names outside the vocabulary classify as Unknown and are not emitted.
func (d *Decoder) DecodeLogs(logLines []string) []Event {
	var out []Event
	for _, line := range logLines {
		idx := strings.Index(line, programDataPrefix)
		if idx < 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(line[idx+len(programDataPrefix):])
		if err != nil || len(raw) < 8 {
			continue
		}

		var disc [8]byte
		copy(disc[:], raw[:8])
		spec, ok := d.registry[disc]
		if !ok {
			// Foreign program event in the same transaction.
			continue
		}

		payload, err := spec.decode(raw[8:])
		if err != nil {
			metrics.DecoderEventErrors.Inc()
			d.logger.Warn("malformed event payload skipped",
				"event", spec.name,
				"error", err,
			)
			continue
		}

		kind := Classify(spec.name)
		if kind == model.KindUnknown {
			continue
		}
		metrics.DecoderEventsTotal.WithLabelValues(string(kind)).Inc()
		out = append(out, Event{Name: spec.name, Kind: kind, Payload: payload})
	}
	return out
}
