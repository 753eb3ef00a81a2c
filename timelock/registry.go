package timelock

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/keyfort/keyfort/fault"
)

// registryABI covers the single read the unlock path needs.
const registryABI = `[{
	"name": "getData",
	"type": "function",
	"stateMutability": "view",
	"inputs": [{"name": "dataId", "type": "bytes32"}],
	"outputs": [
		{"name": "dataHash", "type": "bytes32"},
		{"name": "storageURI", "type": "string"},
		{"name": "releaseDate", "type": "uint64"},
		{"name": "releaseEntropy", "type": "bytes32"},
		{"name": "released", "type": "bool"}
	]
}]`

var (
	parsedABIOnce sync.Once
	parsedABI     abi.ABI
	parsedABIErr  error
)

func registryAbi() (abi.ABI, error) {
	parsedABIOnce.Do(func() {
		parsedABI, parsedABIErr = abi.JSON(strings.NewReader(registryABI))
	})
	return parsedABI, parsedABIErr
}

// ContractCaller is the read-only chain access Registry needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainCommitmentRecord is the contract-resident pointer to the latest
// ciphertext and its release state for one vault on one chain.
type ChainCommitmentRecord struct {
	ContractDataID  common.Hash
	DataHash        common.Hash
	StorageURI      string
	ReleaseDate     time.Time
	ReleaseEntropy  common.Hash
	IsReleased      bool
	ChainID         uint64
	ContractAddress common.Address
}

// Released reports whether the release entropy has been published
// on-chain. This is the condition that makes unlock-key derivation
// possible.
func (r *ChainCommitmentRecord) Released() bool {
	return r.ReleaseEntropy != (common.Hash{})
}

// TimeEligible reports whether the scheduled release date has passed.
// A record can be time-eligible without being released: publishing the
// entropy takes an explicit finalize transaction.
func (r *ChainCommitmentRecord) TimeEligible(now time.Time) bool {
	return !now.Before(r.ReleaseDate)
}

// Registry reads commitment records from one contract on one chain.
type Registry struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

func NewRegistry(caller ContractCaller, address common.Address) (*Registry, error) {
	parsed, err := registryAbi()
	if err != nil {
		return nil, fmt.Errorf("parsing registry ABI: %w", err)
	}
	return &Registry{caller: caller, address: address, abi: parsed}, nil
}

// Record fetches the commitment record for a contract data id. An empty
// slot on-chain surfaces as fault.ErrNotFound.
func (r *Registry) Record(ctx context.Context, dataID common.Hash) (*ChainCommitmentRecord, error) {
	input, err := r.abi.Pack("getData", [32]byte(dataID))
	if err != nil {
		return nil, fmt.Errorf("packing registry call: %w", err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.address,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling registry at %s: %w", r.address, err)
	}

	values, err := r.abi.Unpack("getData", out)
	if err != nil || len(values) != 5 {
		return nil, fmt.Errorf("%w: malformed registry response", fault.ErrFormat)
	}

	dataHash, ok0 := values[0].([32]byte)
	storageURI, ok1 := values[1].(string)
	releaseDate, ok2 := values[2].(uint64)
	entropy, ok3 := values[3].([32]byte)
	released, ok4 := values[4].(bool)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: unexpected registry output types", fault.ErrFormat)
	}

	if dataHash == ([32]byte{}) {
		return nil, fmt.Errorf("%w: no commitment registered for %s", fault.ErrNotFound, dataID)
	}

	return &ChainCommitmentRecord{
		ContractDataID:  dataID,
		DataHash:        common.Hash(dataHash),
		StorageURI:      storageURI,
		ReleaseDate:     time.Unix(int64(releaseDate), 0),
		ReleaseEntropy:  common.Hash(entropy),
		IsReleased:      released,
		ContractAddress: r.address,
	}, nil
}
