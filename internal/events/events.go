package events

import (
	"strings"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
)

// Event is one decoded program event in transaction log order.
type Event struct {
	Name    string
	Kind    model.ActivityKind
	Payload Payload
}

// Payload is the tagged union of per-kind event payloads. Exactly one
// concrete type corresponds to each program event.
type Payload interface {
	payload()
}

// BatchBurnPayload is emitted when the program burns several mints
// atomically in one instruction.
type BatchBurnPayload struct {
	Burner    string
	Mints     []string
	Amounts   []uint64
	Timestamp int64
}

// BurnPayload covers walletBurnEvent and lockedBurnEvent; FromLock
// distinguishes vault-sourced burns.
type BurnPayload struct {
	Mint      string
	Amount    uint64
	FromLock  bool
	Timestamp int64
}

type LockPayload struct {
	Mint       string
	Amount     uint64
	LockID     uint64
	UnlockDate int64
	Timestamp  int64
}

type TransferPayload struct {
	Mint      string
	From      string
	To        string
	Amount    uint64
	Timestamp int64
}

type MintPayload struct {
	Mint      string
	Amount    uint64
	Timestamp int64
}

type MetadataPayload struct {
	Mint      string
	Name      string
	Symbol    string
	URI       string
	Timestamp int64
}

type WithdrawPayload struct {
	Mint      string
	Owner     string
	Amount    uint64
	LockID    uint64
	Timestamp int64
}

type VaultClosePayload struct {
	Mint      string
	Owner     string
	LockID    uint64
	Timestamp int64
}

// CreatePayload covers standardTokenCreatedEvent and token2022CreatedEvent.
type CreatePayload struct {
	Mint         string
	Name         string
	Symbol       string
	URI          string
	Supply       uint64
	TokenProgram string
	Timestamp    int64
}

func (BatchBurnPayload) payload()  {}
func (BurnPayload) payload()       {}
func (LockPayload) payload()       {}
func (TransferPayload) payload()   {}
func (MintPayload) payload()       {}
func (MetadataPayload) payload()   {}
func (WithdrawPayload) payload()   {}
func (VaultClosePayload) payload() {}
func (CreatePayload) payload()     {}

// classification fragments, matched case-insensitively against the event
// name. Order matters: the first matching fragment wins.
var kindVocabulary = []struct {
	fragment string
	kind     model.ActivityKind
}{
	{"batchburnevent", model.KindBatchBurn},
	{"walletburnevent", model.KindWalletBurn},
	{"lockedburnevent", model.KindVaultBurn},
	{"tokenlocked", model.KindLocked},
	{"tokentransferred", model.KindTransferred},
	{"tokenminted", model.KindMinted},
	{"metadataupdated", model.KindMetadataUpdated},
	{"tokenwithdrawn", model.KindWithdrawn},
	{"vaultclosed", model.KindVaultClosed},
	{"standardtokencreated", model.KindCreated},
	{"token2022created", model.KindCreated},
}

// Classify maps a program event name onto an ActivityKind. Names outside
// the vocabulary classify as Unknown and are dropped by callers.
func Classify(name string) model.ActivityKind {
	lower := strings.ToLower(name)
	for _, entry := range kindVocabulary {
		if strings.Contains(lower, entry.fragment) {
			return entry.kind
		}
	}
	return model.KindUnknown
}
