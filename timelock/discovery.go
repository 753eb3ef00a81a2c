package timelock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/keyfort/keyfort/fault"
)

// Candidate is one (chain, contract version) pair worth probing.
type Candidate struct {
	ChainID         uint64
	RPCURL          string
	ContractAddress common.Address
	Version         int
}

// CallerFactory opens a chain connection for a probe. The default dials
// the candidate's RPC endpoint; tests supply fakes.
type CallerFactory func(ctx context.Context, rpcURL string) (ContractCaller, error)

func dialCaller(ctx context.Context, rpcURL string) (ContractCaller, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// Discoverer locates the chain and contract holding a vault's commitment
// when the caller does not know where it was anchored.
type Discoverer struct {
	factory CallerFactory
	log     *slog.Logger
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithCallerFactory replaces the chain dialer.
func WithCallerFactory(factory CallerFactory) DiscovererOption {
	return func(d *Discoverer) {
		d.factory = factory
	}
}

// WithDiscoveryLogger sets the structured logger. Default: slog.Default().
func WithDiscoveryLogger(log *slog.Logger) DiscovererOption {
	return func(d *Discoverer) {
		d.log = log
	}
}

func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		factory: dialCaller,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Match pairs the winning candidate with the record it holds.
type Match struct {
	Candidate Candidate
	Record    *ChainCommitmentRecord
}

// Discover probes every candidate concurrently for a commitment record
// under dataID whose content hash matches wantHash. A record registered
// under the right id but pointing at different payload bytes is not a
// match: accepting it would hand out release entropy for a substituted or
// stale ciphertext. A zero wantHash skips the content check.
//
// The first hit wins and cancels the remaining probes. The work is bounded
// by len(candidates); callers apply their own deadline through ctx.
func (d *Discoverer) Discover(ctx context.Context, candidates []Candidate, dataID, wantHash common.Hash) (*Match, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate chains configured", fault.ErrNotFound)
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *Match, len(candidates))
	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(cand Candidate) {
			defer wg.Done()

			match, err := d.probe(probeCtx, cand, dataID, wantHash)
			if err != nil {
				d.log.Debug("commitment probe missed",
					"chain_id", cand.ChainID, "contract", cand.ContractAddress, "error", err)
				return
			}
			results <- match
			cancel()
		}(cand)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	if match, ok := <-results; ok {
		d.log.Info("commitment discovered",
			"chain_id", match.Candidate.ChainID, "contract", match.Candidate.ContractAddress)
		return match, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: no chain holds a commitment for %s", fault.ErrNotFound, dataID)
}

func (d *Discoverer) probe(ctx context.Context, cand Candidate, dataID, wantHash common.Hash) (*Match, error) {
	caller, err := d.factory(ctx, cand.RPCURL)
	if err != nil {
		return nil, err
	}
	// ethclient.Client closes without an error return.
	if closer, ok := caller.(interface{ Close() }); ok {
		defer closer.Close()
	}

	registry, err := NewRegistry(caller, cand.ContractAddress)
	if err != nil {
		return nil, err
	}
	record, err := registry.Record(ctx, dataID)
	if err != nil {
		return nil, err
	}
	if wantHash != (common.Hash{}) && record.DataHash != wantHash {
		return nil, fmt.Errorf("%w: record on chain %d holds hash %s, want %s",
			fault.ErrNotFound, cand.ChainID, record.DataHash, wantHash)
	}
	record.ChainID = cand.ChainID
	return &Match{Candidate: cand, Record: record}, nil
}
