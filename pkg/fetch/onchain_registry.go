// Copyright 2025 Certen Protocol

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// registryABI exposes the two read-only views the verifier chain needs
// from the on-chain KMS/app registry contract.
const registryABI = `[
	{"type":"function","name":"kmsInfo","stateMutability":"view",
	 "inputs":[{"name":"contractAddress","type":"address"}],
	 "outputs":[{"name":"quote","type":"bytes"},{"name":"eventLog","type":"string"},{"name":"caPubkey","type":"string"}]},
	{"type":"function","name":"isComposeHashRegistered","stateMutability":"view",
	 "inputs":[{"name":"contractAddress","type":"address"},{"name":"composeHash","type":"bytes32"}],
	 "outputs":[{"name":"registered","type":"bool"}]}
]`

// EVMRegistry implements OnChainRegistry against an EVM-compatible chain
// via go-ethereum's bound-contract call path, repurposing the RPC-dial
// and call pattern of pkg/chain/strategy's EVM strategy for read-only
// registry lookups instead of anchor-transaction submission.
type EVMRegistry struct {
	mu      sync.Mutex
	clients map[int64]*ethclient.Client
	rpcURLs map[int64]string
	parsed  abi.ABI
}

// NewEVMRegistry creates an OnChainRegistry that lazily dials one RPC
// client per chain_id, keyed by the rpcURLs map (chain_id -> RPC URL).
func NewEVMRegistry(rpcURLs map[int64]string) (*EVMRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parsing registry ABI: %w", err)
	}
	return &EVMRegistry{
		clients: make(map[int64]*ethclient.Client),
		rpcURLs: rpcURLs,
		parsed:  parsed,
	}, nil
}

func (r *EVMRegistry) clientFor(chainID int64) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[chainID]; ok {
		return c, nil
	}

	url, ok := r.rpcURLs[chainID]
	if !ok {
		return nil, fmt.Errorf("no RPC URL configured for chain_id %d", chainID)
	}

	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing chain_id %d: %w", chainID, err)
	}
	r.clients[chainID] = client
	return client, nil
}

// KmsInfo implements OnChainRegistry.
func (r *EVMRegistry) KmsInfo(ctx context.Context, chainID int64, contractAddress string) (string, string, string, error) {
	client, err := r.clientFor(chainID)
	if err != nil {
		return "", "", "", err
	}

	bound := bind.NewBoundContract(common.HexToAddress(contractAddress), r.parsed, client, nil, nil)

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "kmsInfo", common.HexToAddress(contractAddress)); err != nil {
		return "", "", "", fmt.Errorf("calling kmsInfo on chain_id %d: %w", chainID, err)
	}
	if len(out) != 3 {
		return "", "", "", fmt.Errorf("kmsInfo returned %d values, expected 3", len(out))
	}

	quoteBytes, _ := out[0].([]byte)
	eventLog, _ := out[1].(string)
	caPubkey, _ := out[2].(string)

	return fmt.Sprintf("0x%x", quoteBytes), eventLog, caPubkey, nil
}

// AppComposeHashRegistered implements OnChainRegistry.
func (r *EVMRegistry) AppComposeHashRegistered(ctx context.Context, chainID int64, contractAddress string, composeHash string) (bool, error) {
	client, err := r.clientFor(chainID)
	if err != nil {
		return false, err
	}

	bound := bind.NewBoundContract(common.HexToAddress(contractAddress), r.parsed, client, nil, nil)

	var hashBytes [32]byte
	copy(hashBytes[:], common.FromHex(composeHash))

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "isComposeHashRegistered", common.HexToAddress(contractAddress), hashBytes); err != nil {
		return false, fmt.Errorf("calling isComposeHashRegistered on chain_id %d: %w", chainID, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("isComposeHashRegistered returned %d values, expected 1", len(out))
	}

	registered, _ := out[0].(bool)
	return registered, nil
}

// rpcURLsFromJSON decodes a JSON object of {"chain_id_string": "rpc_url"}
// into the map NewEVMRegistry expects. (pkg/config reads EVM_RPC_URLS in
// "chainID=url,..." form instead and does not call this.)
func rpcURLsFromJSON(raw string) (map[int64]string, error) {
	var strKeyed map[string]string
	if err := json.Unmarshal([]byte(raw), &strKeyed); err != nil {
		return nil, fmt.Errorf("decoding chain RPC URL map: %w", err)
	}

	out := make(map[int64]string, len(strKeyed))
	for k, v := range strKeyed {
		var chainID int64
		if _, err := fmt.Sscanf(k, "%d", &chainID); err != nil {
			return nil, fmt.Errorf("invalid chain_id key %q: %w", k, err)
		}
		out[chainID] = v
	}
	return out, nil
}
