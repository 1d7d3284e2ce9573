package metadata

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
)

type fakeLedger struct {
	accounts map[string]*rpc.AccountInfo
	calls    int
}

func (f *fakeLedger) GetSlot(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeLedger) GetSignaturesForAddress(context.Context, string, *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
	return nil, nil
}

func (f *fakeLedger) GetTransaction(context.Context, string) (*rpc.TransactionResult, error) {
	return nil, nil
}

func (f *fakeLedger) GetAccountInfo(_ context.Context, address string) (*rpc.AccountInfo, error) {
	f.calls++
	return f.accounts[address], nil
}

func (f *fakeLedger) GetProgramAccounts(context.Context, string, []rpc.MemcmpFilter) ([]rpc.ProgramAccount, error) {
	return nil, nil
}

func borshString(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(out, uint32(len(s)))
	copy(out[4:], s)
	return out
}

func metaplexAccountBytes(name, symbol, uri string) []byte {
	data := make([]byte, metaplexHeaderLen)
	data = append(data, borshString(name)...)
	data = append(data, borshString(symbol)...)
	data = append(data, borshString(uri)...)
	return data
}

func token2022MintBytes(name, symbol, uri string) []byte {
	payload := make([]byte, 64)
	payload = append(payload, borshString(name)...)
	payload = append(payload, borshString(symbol)...)
	payload = append(payload, borshString(uri)...)

	data := make([]byte, tlvStartOffset)
	data[mintAccountTypeOffset] = 1
	entry := make([]byte, 4)
	binary.LittleEndian.PutUint16(entry, extensionTypeMetadata)
	binary.LittleEndian.PutUint16(entry[2:], uint16(len(payload)))
	data = append(data, entry...)
	data = append(data, payload...)
	return data
}

func account(owner string, data []byte) *rpc.AccountInfo {
	return &rpc.AccountInfo{
		Owner: owner,
		Data:  []string{base64.StdEncoding.EncodeToString(data), "base64"},
	}
}

const testMint = "So11111111111111111111111111111111111111112"

func TestResolveToken2022Metadata(t *testing.T) {
	ledger := &fakeLedger{accounts: map[string]*rpc.AccountInfo{
		testMint: account(token2022ProgramID, token2022MintBytes("Forge Token", "FORGE", "https://example.com/meta.json")),
	}}
	r := NewResolver(ledger, 16, time.Minute, nil)

	meta := r.Resolve(context.Background(), testMint)
	assert.Equal(t, "Forge Token", meta.Name)
	assert.Equal(t, "FORGE", meta.Symbol)
	assert.Equal(t, "https://example.com/meta.json", meta.URI)
	assert.Equal(t, testMint, meta.Mint)
}

func TestResolveMetaplexFallback(t *testing.T) {
	pda, err := metaplexMetadataAddress(testMint)
	require.NoError(t, err)

	ledger := &fakeLedger{accounts: map[string]*rpc.AccountInfo{
		pda: account(metaplexProgramID, metaplexAccountBytes("Legacy\x00\x00\x00", "LGC\x00", "https://example.com/legacy.json\x00")),
	}}
	r := NewResolver(ledger, 16, time.Minute, nil)

	meta := r.Resolve(context.Background(), testMint)
	assert.Equal(t, "Legacy", meta.Name)
	assert.Equal(t, "LGC", meta.Symbol)
	assert.Equal(t, "https://example.com/legacy.json", meta.URI)
}

func TestResolveUnknownSentinel(t *testing.T) {
	r := NewResolver(&fakeLedger{accounts: map[string]*rpc.AccountInfo{}}, 16, time.Minute, nil)

	meta := r.Resolve(context.Background(), testMint)
	assert.Equal(t, "Unknown", meta.Name)
	assert.Equal(t, "UNK", meta.Symbol)
	assert.Empty(t, meta.URI)
	assert.Equal(t, testMint, meta.Mint)
}

func TestResolveCachesResult(t *testing.T) {
	ledger := &fakeLedger{accounts: map[string]*rpc.AccountInfo{
		testMint: account(token2022ProgramID, token2022MintBytes("Forge", "FRG", "")),
	}}
	r := NewResolver(ledger, 16, time.Minute, nil)

	first := r.Resolve(context.Background(), testMint)
	calls := ledger.calls
	second := r.Resolve(context.Background(), testMint)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, ledger.calls)
}

func TestMetaplexAddressDeterministic(t *testing.T) {
	a, err := metaplexMetadataAddress(testMint)
	require.NoError(t, err)
	b, err := metaplexMetadataAddress(testMint)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestFetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"name":"Forge","image":"https://cdn.example.com/forge.png"}`))
	}))
	defer srv.Close()

	r := NewResolver(&fakeLedger{}, 16, time.Minute, nil)
	assert.Equal(t, "https://cdn.example.com/forge.png", r.FetchImage(context.Background(), srv.URL))
	assert.Empty(t, r.FetchImage(context.Background(), ""))
}

func TestFetchImageBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(&fakeLedger{}, 16, time.Minute, nil)
	assert.Empty(t, r.FetchImage(context.Background(), srv.URL))
}
