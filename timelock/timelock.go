// Package timelock seals release secrets against a future round of a
// public randomness beacon and discovers the on-chain commitment record
// that anchors a vault's ciphertext.
package timelock

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/drand/tlock"
	tlockhttp "github.com/drand/tlock/networks/http"

	"github.com/keyfort/keyfort/fault"
)

// Default beacon parameters (drand quicknet).
const (
	DefaultBeaconHost = "https://api.drand.sh"
	DefaultChainHash  = "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971"

	DefaultBeaconPeriod = 3 * time.Second
)

// DefaultBeaconGenesis is the quicknet genesis time.
var DefaultBeaconGenesis = time.Unix(1692803367, 0)

// NewNetwork connects to a drand HTTP endpoint for the given chain.
func NewNetwork(host, chainHash string) (*tlockhttp.Network, error) {
	return tlockhttp.NewNetwork(host, chainHash)
}

// RoundAt returns the beacon round in force at target. Round 1 is
// published at genesis; targets before genesis map to round 1.
func RoundAt(genesis time.Time, period time.Duration, target time.Time) uint64 {
	if period <= 0 || !target.After(genesis) {
		return 1
	}
	return uint64(target.Sub(genesis)/period) + 1
}

// Seal encrypts secret so it can only be opened once the beacon publishes
// round.
func Seal(network tlock.Network, round uint64, secret []byte) ([]byte, error) {
	if round == 0 {
		return nil, fmt.Errorf("%w: round must be positive", fault.ErrFormat)
	}
	var sealed bytes.Buffer
	if err := tlock.New(network).Encrypt(&sealed, bytes.NewReader(secret), round); err != nil {
		return nil, fmt.Errorf("sealing release secret: %w", err)
	}
	return sealed.Bytes(), nil
}

// Open decrypts a sealed release secret. Before the target round is
// published the beacon cannot supply the signature and Open fails with
// fault.ErrPending.
func Open(network tlock.Network, sealed []byte) ([]byte, error) {
	var secret bytes.Buffer
	err := tlock.New(network).Decrypt(&secret, bytes.NewReader(sealed))
	switch {
	case err == nil:
		return secret.Bytes(), nil
	case errors.Is(err, tlock.ErrTooEarly):
		return nil, fmt.Errorf("%w: release round not yet published", fault.ErrPending)
	default:
		return nil, fmt.Errorf("%w: opening release secret: %v", fault.ErrFormat, err)
	}
}
