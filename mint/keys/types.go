// Package keys implements component A: the Key Factory & Repository.
// It derives crsat keysets deterministically from a mint seed, signs
// and verifies blind-signature proofs, and enforces the keyset
// rotation/activation model.
package keys

import (
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/crypto"
)

// KeysetID is the 8-byte identifier: a 1-byte version tag (0x00) plus 7
// bytes of identifying material, rendered as 16 lowercase hex chars.
type KeysetID string

// MaxOrder is the highest power-of-two order a keyset signs for
// (amounts 1 .. 2^(MaxOrder-1)); fixed at 20 for this mint.
const MaxOrder = crypto.MaxOrder

// Unit tags used in KeysetInfo.
const (
	UnitSat   = "sat"
	UnitCrsat = "crsat"
)

// KeysetInfo is the non-secret metadata of a Keyset (§3).
type KeysetInfo struct {
	Id          KeysetID
	Unit        string
	Active      bool
	ValidFrom   int64  // unix seconds
	FinalExpiry *int64 // unix seconds == bill maturity, nil for sat keysets
	// DerivationPath is the full BIP32 path string this keyset's keys
	// descend from, kept for auditability and K1 recomputation.
	DerivationPath string
	// QuoteID is set for quote-bound keysets, nil for maturity-bound ones.
	QuoteID *uuid.UUID
	// RotationIndex is set for maturity-bound keysets (K2).
	RotationIndex *uint32
	InputFeePpk   uint // always 0 in this system's scope
	MaxOrder      int
}

// IsMaturityBound reports whether this info describes a
// maturity-date-scoped keyset rather than a quote-scoped one.
func (ki KeysetInfo) IsMaturityBound() bool {
	return ki.RotationIndex != nil
}

// Stale reports K3: an active keyset whose final_expiry has passed.
// It is a recoverable inconsistency to surface, not to crash on.
func (ki KeysetInfo) Stale(now time.Time) bool {
	if !ki.Active || ki.FinalExpiry == nil {
		return false
	}
	return now.Unix() > *ki.FinalExpiry
}

// Keyset is a KeysetInfo plus its live per-amount secp256k1 key pairs.
type Keyset struct {
	Info KeysetInfo
	Keys map[uint64]crypto.KeyPair
}

// PublicKeys projects this keyset's public half, keyed by amount.
func (ks Keyset) PublicKeys() crypto.PublicKeys {
	pk := make(crypto.PublicKeys, len(ks.Keys))
	for amount, kp := range ks.Keys {
		pk[amount] = kp.PublicKey
	}
	return pk
}

// RecomputeId reproduces K1: the id recomputed from this keyset's own
// public keys must equal Info.Id.
func (ks Keyset) RecomputeId() KeysetID {
	return KeysetID(crypto.DeriveKeysetId(ks.PublicKeys()))
}

// MintOperation is the per-quote minting ledger entry (§3).
type MintOperation struct {
	UID            uuid.UUID
	KeysetID       KeysetID
	BoundPublicKey *secp256k1.PublicKey
	TargetAmount   uint64
	MintedAmount   uint64
}

// RemainingAllowance is TargetAmount - MintedAmount, the headroom left
// for further partial mint calls (M1).
func (m MintOperation) RemainingAllowance() uint64 {
	if m.MintedAmount >= m.TargetAmount {
		return 0
	}
	return m.TargetAmount - m.MintedAmount
}
