package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// MemcmpFilter matches accounts whose data contains Bytes (base58) at Offset.
type MemcmpFilter struct {
	Offset uint64 `json:"offset"`
	Bytes  string `json:"bytes"`
}

// AccountData is the [payload, encoding] pair returned for base64 accounts.
type AccountData []byte

// UnmarshalJSON decodes ["<base64>", "base64"].
func (d *AccountData) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("account data: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("account data: expected [data, encoding], got %d elements", len(pair))
	}
	if pair[1] != "base64" {
		return fmt.Errorf("account data: unsupported encoding %q", pair[1])
	}
	raw, err := base64.StdEncoding.DecodeString(pair[0])
	if err != nil {
		return fmt.Errorf("account data: %w", err)
	}
	*d = raw
	return nil
}

// Account is the on-chain state of a single address.
type Account struct {
	Data       AccountData `json:"data"`
	Owner      string      `json:"owner"`
	Lamports   uint64      `json:"lamports"`
	Executable bool        `json:"executable"`
	RentEpoch  uint64      `json:"rentEpoch"`
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Pubkey  string  `json:"pubkey"`
	Account Account `json:"account"`
}

type multipleAccountsResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value []*Account `json:"value"`
}
