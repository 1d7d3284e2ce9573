package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/samuelhorjet/solana-forge/internal/cache"
	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/metrics"
	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
)

const (
	token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	metaplexProgramID  = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

	// Token-2022 mint layout: 82-byte base mint, padding to 165, account
	// type byte, then TLV extension entries.
	mintAccountTypeOffset = 165
	tlvStartOffset        = 166
	extensionTypeMetadata = 19

	// Metaplex metadata layout: key(1) | update_authority(32) | mint(32),
	// then borsh strings name, symbol, uri.
	metaplexHeaderLen = 1 + 32 + 32

	maxImageDocBytes = 1 << 20
)

// Sentinel triple returned on any resolution failure.
const (
	unknownName   = "Unknown"
	unknownSymbol = "UNK"
)

// Resolver resolves best-effort display metadata for a mint. Resolution
// never fails: any error collapses into the Unknown/UNK sentinel.
type Resolver interface {
	Resolve(ctx context.Context, mint string) model.TokenMetadata
	FetchImage(ctx context.Context, uri string) string
}

type enriched struct {
	meta  model.TokenMetadata
	image string
	// imageFetched guards against refetching a URI that already failed.
	imageFetched bool
}

// OnChainResolver reads Token-2022 metadata extensions first and falls back
// to the Metaplex metadata account.
type OnChainResolver struct {
	ledger     rpc.LedgerClient
	httpClient *http.Client
	cache      *cache.LRU[string, enriched]
	logger     *slog.Logger
}

var _ Resolver = (*OnChainResolver)(nil)

func NewResolver(ledger rpc.LedgerClient, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *OnChainResolver {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnChainResolver{
		ledger: ledger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  cache.NewLRU[string, enriched](cacheSize, cacheTTL),
		logger: logger.With("component", "metadata"),
	}
}

// Resolve returns the (name, symbol, uri) triple for mint. It consults the
// LRU first, then Token-2022 extensions, then the Metaplex account.
func (r *OnChainResolver) Resolve(ctx context.Context, mint string) model.TokenMetadata {
	if hit, ok := r.cache.Get(mint); ok {
		return hit.meta
	}

	meta, err := r.resolveOnChain(ctx, mint)
	if err != nil {
		metrics.MetadataLookupsTotal.WithLabelValues("failed").Inc()
		r.logger.Debug("metadata resolution failed", "mint", mint, "error", err)
		return model.TokenMetadata{Mint: mint, Name: unknownName, Symbol: unknownSymbol}
	}

	metrics.MetadataLookupsTotal.WithLabelValues("ok").Inc()
	r.cache.Put(mint, enriched{meta: meta})
	return meta
}

// FetchImage dereferences a metadata URI to its JSON document's image URL.
// Failures yield an empty string, never an error.
func (r *OnChainResolver) FetchImage(ctx context.Context, uri string) string {
	if uri == "" {
		return ""
	}
	if hit, ok := r.cache.Get(uri); ok && hit.imageFetched {
		return hit.image
	}

	image := r.fetchImageDoc(ctx, uri)
	r.cache.Put(uri, enriched{image: image, imageFetched: true})
	return image
}

func (r *OnChainResolver) fetchImageDoc(ctx context.Context, uri string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return ""
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDocBytes))
	if err != nil {
		return ""
	}

	var doc struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return doc.Image
}

func (r *OnChainResolver) resolveOnChain(ctx context.Context, mint string) (model.TokenMetadata, error) {
	account, err := r.ledger.GetAccountInfo(ctx, mint)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("fetch mint account: %w", err)
	}
	if account != nil && account.Owner == token2022ProgramID {
		if meta, ok := parseToken2022Metadata(accountData(account)); ok {
			meta.Mint = mint
			return meta, nil
		}
	}

	// Metaplex fallback (standard and hybrid mints).
	pda, err := metaplexMetadataAddress(mint)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("derive metadata address: %w", err)
	}
	metaAccount, err := r.ledger.GetAccountInfo(ctx, pda)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("fetch metadata account: %w", err)
	}
	if metaAccount == nil {
		return model.TokenMetadata{}, fmt.Errorf("no metadata account for %s", mint)
	}

	meta, ok := parseMetaplexMetadata(accountData(metaAccount))
	if !ok {
		return model.TokenMetadata{}, fmt.Errorf("malformed metadata account for %s", mint)
	}
	meta.Mint = mint
	return meta, nil
}

func accountData(account *rpc.AccountInfo) []byte {
	if account == nil || len(account.Data) == 0 {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(account.Data[0])
	if err != nil {
		return nil
	}
	return raw
}

// parseToken2022Metadata walks the mint account's TLV extensions looking for
// the TokenMetadata extension: update_authority(32) | mint(32) | name |
// symbol | uri as borsh strings.
func parseToken2022Metadata(data []byte) (model.TokenMetadata, bool) {
	if len(data) <= tlvStartOffset || data[mintAccountTypeOffset] != 1 {
		return model.TokenMetadata{}, false
	}

	offset := tlvStartOffset
	for offset+4 <= len(data) {
		extType := binary.LittleEndian.Uint16(data[offset:])
		extLen := int(binary.LittleEndian.Uint16(data[offset+2:]))
		offset += 4
		if offset+extLen > len(data) {
			return model.TokenMetadata{}, false
		}
		if extType == extensionTypeMetadata {
			return parseMetadataFields(data[offset:offset+extLen], 64)
		}
		offset += extLen
	}
	return model.TokenMetadata{}, false
}

// parseMetaplexMetadata decodes the legacy metadata account layout.
func parseMetaplexMetadata(data []byte) (model.TokenMetadata, bool) {
	return parseMetadataFields(data, metaplexHeaderLen)
}

// parseMetadataFields reads three length-prefixed strings (name, symbol,
// uri) starting at headerLen, trimming NUL padding.
func parseMetadataFields(data []byte, headerLen int) (model.TokenMetadata, bool) {
	offset := headerLen
	read := func() (string, bool) {
		if offset+4 > len(data) {
			return "", false
		}
		strLen := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if offset+strLen > len(data) {
			return "", false
		}
		s := string(data[offset : offset+strLen])
		offset += strLen
		return strings.TrimRight(s, "\x00"), true
	}

	name, ok := read()
	if !ok {
		return model.TokenMetadata{}, false
	}
	symbol, ok := read()
	if !ok {
		return model.TokenMetadata{}, false
	}
	uri, ok := read()
	if !ok {
		return model.TokenMetadata{}, false
	}
	return model.TokenMetadata{Name: name, Symbol: symbol, URI: uri}, true
}

// metaplexMetadataAddress derives the metadata PDA for a mint:
// seeds ["metadata", program, mint] under the Metaplex program.
func metaplexMetadataAddress(mint string) (string, error) {
	programBytes, err := base58.Decode(metaplexProgramID)
	if err != nil {
		return "", err
	}
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint %q: %w", mint, err)
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write([]byte("metadata"))
		h.Write(programBytes)
		h.Write(mintBytes)
		h.Write([]byte{byte(bump)})
		h.Write(programBytes)
		h.Write([]byte("ProgramDerivedAddress"))
		candidate := h.Sum(nil)

		// A PDA must not be a valid curve point.
		if _, err := new(edwards25519.Point).SetBytes(candidate); err != nil {
			return base58.Encode(candidate), nil
		}
	}
	return "", fmt.Errorf("no off-curve bump for mint %s", mint)
}
