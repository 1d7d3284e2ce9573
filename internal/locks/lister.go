package locks

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/mr-tron/base58"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/metadata"
	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
)

// LockerProgramID is the on-chain locker program owning all lock accounts.
const LockerProgramID = "AVfmdPiqXfc15Pt8PPRXxTP5oMs4D1CdijARiz8mFMFD"

// Lock account layout: discriminator(8) | bump(1) | owner(32) | mint(32) |
// vault(32) | amount(u64) | unlock_timestamp(i64) | lock_id(u64).
const (
	ownerFieldOffset = 9
	lockAccountLen   = 8 + 1 + 32 + 32 + 32 + 8 + 8 + 8

	// SPL mint layout places the decimals byte at offset 44.
	mintDecimalsOffset = 44
	defaultDecimals    = 9
)

// rawLock is a decoded lock account before decimal adjustment.
type rawLock struct {
	address         string
	owner           string
	mint            string
	amount          uint64
	unlockTimestamp int64
	lockID          uint64
}

// Lister enumerates an identity's lock accounts with token enrichment.
type Lister struct {
	ledger   rpc.LedgerClient
	resolver metadata.Resolver
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewLister(ledger rpc.LedgerClient, resolver metadata.Resolver, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{
		ledger:   ledger,
		resolver: resolver,
		logger:   logger.With("component", "locks"),
		nowFn:    time.Now,
	}
}

// List returns the identity's lock accounts, soonest unlock first.
// Malformed accounts are logged and skipped.
func (l *Lister) List(ctx context.Context, identity string) ([]model.LockRecord, error) {
	accounts, err := l.ledger.GetProgramAccounts(ctx, LockerProgramID, []rpc.MemcmpFilter{
		{Offset: ownerFieldOffset, Bytes: identity},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch lock accounts: %w", err)
	}

	now := l.nowFn()
	decimalsByMint := make(map[string]int)
	out := make([]model.LockRecord, 0, len(accounts))
	for _, account := range accounts {
		raw, err := decodeLockAccount(account)
		if err != nil {
			l.logger.Warn("skipping malformed lock account", "pubkey", account.Pubkey, "error", err)
			continue
		}

		decimals, ok := decimalsByMint[raw.mint]
		if !ok {
			decimals = l.mintDecimals(ctx, raw.mint)
			decimalsByMint[raw.mint] = decimals
		}

		unlockAt := time.Unix(raw.unlockTimestamp, 0).UTC()
		record := model.LockRecord{
			Address:    raw.address,
			LockID:     fmt.Sprintf("%d", raw.lockID),
			Owner:      raw.owner,
			AssetID:    raw.mint,
			Quantity:   float64(raw.amount) / math.Pow10(decimals),
			UnlockAt:   unlockAt,
			IsUnlocked: !unlockAt.After(now),
			Decimals:   decimals,
		}
		l.enrich(ctx, &record)
		out = append(out, record)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UnlockAt.Before(out[j].UnlockAt)
	})
	return out, nil
}

func (l *Lister) enrich(ctx context.Context, record *model.LockRecord) {
	meta := l.resolver.Resolve(ctx, record.AssetID)
	record.TokenName = meta.Name
	record.TokenSymbol = meta.Symbol
	record.Image = l.resolver.FetchImage(ctx, meta.URI)
}

// mintDecimals reads the decimals byte from the mint account, defaulting
// to 9 when the account cannot be inspected.
func (l *Lister) mintDecimals(ctx context.Context, mint string) int {
	account, err := l.ledger.GetAccountInfo(ctx, mint)
	if err != nil || account == nil || len(account.Data) == 0 {
		return defaultDecimals
	}
	raw, err := base64.StdEncoding.DecodeString(account.Data[0])
	if err != nil || len(raw) <= mintDecimalsOffset {
		return defaultDecimals
	}
	return int(raw[mintDecimalsOffset])
}

func decodeLockAccount(account rpc.ProgramAccount) (rawLock, error) {
	if len(account.Account.Data) == 0 {
		return rawLock{}, fmt.Errorf("empty account data")
	}
	raw, err := base64.StdEncoding.DecodeString(account.Account.Data[0])
	if err != nil {
		return rawLock{}, fmt.Errorf("decode account data: %w", err)
	}
	if len(raw) < lockAccountLen {
		return rawLock{}, fmt.Errorf("account data too short: %d bytes", len(raw))
	}

	offset := ownerFieldOffset
	owner := base58.Encode(raw[offset : offset+32])
	offset += 32
	mint := base58.Encode(raw[offset : offset+32])
	offset += 32
	// vault pubkey, unused for display
	offset += 32
	amount := binary.LittleEndian.Uint64(raw[offset:])
	offset += 8
	unlockTimestamp := int64(binary.LittleEndian.Uint64(raw[offset:]))
	offset += 8
	lockID := binary.LittleEndian.Uint64(raw[offset:])

	return rawLock{
		address:         account.Pubkey,
		owner:           owner,
		mint:            mint,
		amount:          amount,
		unlockTimestamp: unlockTimestamp,
		lockID:          lockID,
	}, nil
}
