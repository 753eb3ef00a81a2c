package timelock

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Commitment binds a ciphertext version and its wrapped key to an owner
// before contract registration:
//
//	Keccak256(dataHash || wrappedKeyHash || ownerAddress)
//
// The contract recomputes the same hash on registration, so a substituted
// ciphertext or wrapped key can never claim an existing commitment.
func Commitment(dataHash, wrappedKeyHash common.Hash, owner common.Address) common.Hash {
	return crypto.Keccak256Hash(dataHash.Bytes(), wrappedKeyHash.Bytes(), owner.Bytes())
}

// DataHash is the content hash of raw payload bytes as the registry
// contract stores it.
func DataHash(payload []byte) common.Hash {
	return crypto.Keccak256Hash(payload)
}

// ContractDataID derives the registry lookup key for a vault id.
func ContractDataID(vaultID string) common.Hash {
	return crypto.Keccak256Hash([]byte(vaultID))
}
