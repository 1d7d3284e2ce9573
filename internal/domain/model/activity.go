package model

import "time"

// ActivityKind is the closed set of record classifications produced by the
// event decoder. Unknown is an internal sentinel: it never reaches a
// persisted log.
type ActivityKind string

const (
	KindCreated         ActivityKind = "Created"
	KindWalletBurn      ActivityKind = "Wallet Burn"
	KindVaultBurn       ActivityKind = "Vault Burn"
	KindBatchBurn       ActivityKind = "Batch Burn"
	KindLocked          ActivityKind = "Locked"
	KindWithdrawn       ActivityKind = "Withdrawn"
	KindVaultClosed     ActivityKind = "Vault Closed"
	KindTransferred     ActivityKind = "Transfer Out"
	KindMinted          ActivityKind = "Minted More"
	KindMetadataUpdated ActivityKind = "Metadata Update"
	KindUnknown         ActivityKind = "Unknown"
)

// MultipleAssets is the AssetID sentinel carried by BatchBurn records.
const MultipleAssets = "Multiple Assets"

// BatchSymbol is the display symbol for collapsed batch records.
const BatchSymbol = "BATCH"

type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailed  Outcome = "Failed"
)

// BatchComponent is one asset inside a BatchBurn record.
type BatchComponent struct {
	AssetID  string  `json:"mint"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"amount"`
	Image    string  `json:"image,omitempty"`
	Decimals int     `json:"decimals"`
}

// ActivityRecord is the unit of a reconciled per-identity activity log.
// (Signature, Kind, AssetID) is the deduplication key: one ledger
// transaction may legitimately yield several records of different kinds.
type ActivityRecord struct {
	Signature  string           `json:"signature"`
	Kind       ActivityKind     `json:"type"`
	AssetID    string           `json:"mint"`
	Quantity   *float64         `json:"amount,omitempty"`
	OccurredAt int64            `json:"timestamp"` // unix milliseconds
	Outcome    Outcome          `json:"status"`
	Image      string           `json:"image,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Decimals   *int             `json:"decimals,omitempty"`
	Name       string           `json:"name,omitempty"`
	URI        string           `json:"uri,omitempty"`
	LockID     string           `json:"lockId,omitempty"`
	Recipient  string           `json:"recipient,omitempty"`
	Components []BatchComponent `json:"batchDetails,omitempty"`

	// Optimistic marks a locally appended record that has not yet been
	// observed on the ledger. Optimistic records never advance the
	// incremental fetch boundary.
	Optimistic bool `json:"optimistic,omitempty"`
}

// RecordKey identifies a record within a log.
type RecordKey struct {
	Signature string
	Kind      ActivityKind
	AssetID   string
}

func (r ActivityRecord) Key() RecordKey {
	return RecordKey{Signature: r.Signature, Kind: r.Kind, AssetID: r.AssetID}
}

// Quantified reports whether records of this kind carry an amount.
// MetadataUpdated and VaultClosed are pure state transitions.
func (k ActivityKind) Quantified() bool {
	return k != KindMetadataUpdated && k != KindVaultClosed
}

// LockRecord is a decoded lock/vault account of the locker program.
type LockRecord struct {
	Address     string    `json:"pubkey"`
	LockID      string    `json:"lockId"`
	Owner       string    `json:"owner"`
	AssetID     string    `json:"tokenMint"`
	Quantity    float64   `json:"amount"`
	UnlockAt    time.Time `json:"unlockDate"`
	IsUnlocked  bool      `json:"isUnlocked"`
	TokenName   string    `json:"tokenName,omitempty"`
	TokenSymbol string    `json:"tokenSymbol,omitempty"`
	Decimals    int       `json:"decimals"`
	Image       string    `json:"image,omitempty"`
}

// TokenMetadata is the best-effort (name, symbol, uri) enrichment triple.
type TokenMetadata struct {
	Mint   string
	Name   string
	Symbol string
	URI    string
}
