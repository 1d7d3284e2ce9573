package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// GetSlot returns the current slot at the given commitment.
func (c *Client) GetSlot(ctx context.Context, commitment string) (int64, error) {
	params := []interface{}{
		map[string]string{"commitment": commitment},
	}
	result, err := c.call(ctx, "getSlot", params)
	if err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}

	var slot int64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("unmarshal slot: %w", err)
	}
	return slot, nil
}

type GetSignaturesOpts struct {
	Limit  int
	Before string // signature to start searching backwards from
	Until  string // signature to search until (exclusive)
}

// GetSignaturesForAddress returns transaction signatures for an address,
// newest-first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]interface{}{
		"commitment": "confirmed",
	}
	if opts != nil {
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
	}

	params := []interface{}{address, config}
	result, err := c.call(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return sigs, nil
}

// GetTransaction returns a parsed transaction by signature. A transaction
// the node cannot (yet) resolve yields (nil, nil).
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionResult, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
	result, err := c.call(ctx, "getTransaction", params)
	if err != nil {
		return nil, fmt.Errorf("getTransaction(%s): %w", signature, err)
	}
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, nil
	}

	var tx TransactionResult
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction %s: %w", signature, err)
	}
	return &tx, nil
}

// GetAccountInfo returns the account at address with base64-encoded data,
// or (nil, nil) when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": "confirmed",
		},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo(%s): %w", address, err)
	}

	var envelope accountInfoEnvelope
	if err := json.Unmarshal(result, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal account %s: %w", address, err)
	}
	return envelope.Value, nil
}

// GetProgramAccounts returns all accounts owned by programID matching the
// given memcmp filters.
func (c *Client) GetProgramAccounts(ctx context.Context, programID string, filters []MemcmpFilter) ([]ProgramAccount, error) {
	config := map[string]interface{}{
		"encoding":   "base64",
		"commitment": "confirmed",
	}
	if len(filters) > 0 {
		encoded := make([]interface{}, len(filters))
		for i, f := range filters {
			encoded[i] = map[string]interface{}{
				"memcmp": map[string]interface{}{
					"offset": f.Offset,
					"bytes":  f.Bytes,
				},
			}
		}
		config["filters"] = encoded
	}

	params := []interface{}{programID, config}
	result, err := c.call(ctx, "getProgramAccounts", params)
	if err != nil {
		return nil, fmt.Errorf("getProgramAccounts(%s): %w", programID, err)
	}

	var accounts []ProgramAccount
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, fmt.Errorf("unmarshal program accounts: %w", err)
	}
	return accounts, nil
}
