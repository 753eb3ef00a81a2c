package timelock

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/fault"
)

func TestRoundAt(t *testing.T) {
	genesis := time.Unix(1_692_803_367, 0)
	period := 3 * time.Second

	tests := []struct {
		name   string
		target time.Time
		want   uint64
	}{
		{"BeforeGenesis", genesis.Add(-time.Hour), 1},
		{"AtGenesis", genesis, 1},
		{"MidFirstPeriod", genesis.Add(time.Second), 1},
		{"SecondRound", genesis.Add(3 * time.Second), 2},
		{"ThirdRound", genesis.Add(7 * time.Second), 3},
		{"FarFuture", genesis.Add(30 * 24 * time.Hour), uint64(30*24*3600/3) + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundAt(genesis, period, tt.target))
		})
	}
}

func TestCommitment_BindsAllInputs(t *testing.T) {
	dataHash := common.HexToHash("0x01")
	keyHash := common.HexToHash("0x02")
	owner := common.HexToAddress("0xabc0000000000000000000000000000000000001")

	c := Commitment(dataHash, keyHash, owner)
	assert.Equal(t, c, Commitment(dataHash, keyHash, owner))

	assert.NotEqual(t, c, Commitment(common.HexToHash("0x03"), keyHash, owner))
	assert.NotEqual(t, c, Commitment(dataHash, common.HexToHash("0x03"), owner))
	assert.NotEqual(t, c, Commitment(dataHash, keyHash, common.HexToAddress("0xdead")))
}

func TestContractDataID_Deterministic(t *testing.T) {
	assert.Equal(t, ContractDataID("vault-1"), ContractDataID("vault-1"))
	assert.NotEqual(t, ContractDataID("vault-1"), ContractDataID("vault-2"))
}

// fakeCaller answers getData calls from a canned record table.
type fakeCaller struct {
	records map[common.Hash]recordFixture
	err     error
	closed  bool
}

type recordFixture struct {
	dataHash    common.Hash
	storageURI  string
	releaseDate uint64
	entropy     common.Hash
	released    bool
}

func (f *fakeCaller) Close() { f.closed = true }

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	parsed, err := registryAbi()
	if err != nil {
		return nil, err
	}

	var dataID [32]byte
	copy(dataID[:], msg.Data[4:36])

	rec := f.records[common.Hash(dataID)] // zero value encodes an empty slot
	return parsed.Methods["getData"].Outputs.Pack(
		[32]byte(rec.dataHash), rec.storageURI, rec.releaseDate, [32]byte(rec.entropy), rec.released)
}

func TestRegistry_Record(t *testing.T) {
	dataID := ContractDataID("vault-1")
	releaseDate := uint64(1_900_000_000)
	caller := &fakeCaller{records: map[common.Hash]recordFixture{
		dataID: {
			dataHash:    common.HexToHash("0x11"),
			storageURI:  "ar://AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			releaseDate: releaseDate,
		},
	}}

	registry, err := NewRegistry(caller, common.HexToAddress("0xfeed"))
	require.NoError(t, err)

	rec, err := registry.Record(context.Background(), dataID)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x11"), rec.DataHash)
	assert.Equal(t, time.Unix(int64(releaseDate), 0), rec.ReleaseDate)

	assert.False(t, rec.Released(), "entropy not yet published")
	assert.False(t, rec.TimeEligible(time.Unix(int64(releaseDate)-1, 0)))
	assert.True(t, rec.TimeEligible(time.Unix(int64(releaseDate), 0)))

	rec.ReleaseEntropy = common.HexToHash("0x22")
	assert.True(t, rec.Released())
}

func TestRegistry_EmptySlotIsNotFound(t *testing.T) {
	registry, err := NewRegistry(&fakeCaller{records: nil}, common.HexToAddress("0xfeed"))
	require.NoError(t, err)

	_, err = registry.Record(context.Background(), ContractDataID("missing"))
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestDiscover_FirstMatchWins(t *testing.T) {
	dataID := ContractDataID("vault-1")

	holding := &fakeCaller{records: map[common.Hash]recordFixture{
		dataID: {dataHash: common.HexToHash("0x11"), releaseDate: 1},
	}}
	callers := map[string]*fakeCaller{
		"rpc://mainnet": {err: errors.New("rpc unreachable")},
		"rpc://polygon": holding,
		"rpc://base":    {records: nil},
	}

	d := NewDiscoverer(WithCallerFactory(func(_ context.Context, rpcURL string) (ContractCaller, error) {
		return callers[rpcURL], nil
	}))

	match, err := d.Discover(context.Background(), []Candidate{
		{ChainID: 1, RPCURL: "rpc://mainnet", ContractAddress: common.HexToAddress("0x01")},
		{ChainID: 137, RPCURL: "rpc://polygon", ContractAddress: common.HexToAddress("0x02")},
		{ChainID: 8453, RPCURL: "rpc://base", ContractAddress: common.HexToAddress("0x03")},
	}, dataID, common.HexToHash("0x11"))
	require.NoError(t, err)
	assert.Equal(t, uint64(137), match.Candidate.ChainID)
	assert.Equal(t, uint64(137), match.Record.ChainID)
	assert.Equal(t, common.HexToAddress("0x02"), match.Record.ContractAddress)
	assert.True(t, holding.closed, "probe connections are closed")
}

func TestDiscover_NoMatch(t *testing.T) {
	d := NewDiscoverer(WithCallerFactory(func(_ context.Context, _ string) (ContractCaller, error) {
		return &fakeCaller{}, nil
	}))

	_, err := d.Discover(context.Background(), []Candidate{
		{ChainID: 1, RPCURL: "rpc://mainnet"},
	}, ContractDataID("vault-1"), common.Hash{})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = d.Discover(context.Background(), nil, ContractDataID("vault-1"), common.Hash{})
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestDiscover_ContentHashMustMatch(t *testing.T) {
	dataID := ContractDataID("vault-1")

	// A record exists under the right id but anchors different payload
	// bytes. It must not be treated as this vault's commitment.
	stale := &fakeCaller{records: map[common.Hash]recordFixture{
		dataID: {dataHash: common.HexToHash("0xdeadbeef"), releaseDate: 1, entropy: common.HexToHash("0x33")},
	}}
	d := NewDiscoverer(WithCallerFactory(func(_ context.Context, _ string) (ContractCaller, error) {
		return stale, nil
	}))
	candidates := []Candidate{{ChainID: 1, RPCURL: "rpc://mainnet", ContractAddress: common.HexToAddress("0x01")}}

	_, err := d.Discover(context.Background(), candidates, dataID, common.HexToHash("0x11"))
	assert.ErrorIs(t, err, fault.ErrNotFound)

	// The same record is a match once the expected hash agrees.
	match, err := d.Discover(context.Background(), candidates, dataID, common.HexToHash("0xdeadbeef"))
	require.NoError(t, err)
	assert.True(t, match.Record.Released())
}
