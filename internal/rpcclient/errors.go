package rpcclient

import "errors"

// Sentinel errors — the RpcError kind of spec §7.
var (
	ErrConnection          = errors.New("bitcoin rpc connection failed")
	ErrTimeout             = errors.New("bitcoin rpc request timed out")
	ErrTransactionNotFound = errors.New("transaction not found on node")
	ErrBlockNotFound       = errors.New("block not found on node")
)
