// Package treasury implements component E: the sat-side treasury. It
// maintains a deterministic BIP32-counter-driven blinded-message
// inventory per keyset id, ties signed responses back to the secrets
// that produced them, and unblinds signatures into spendable proofs
// once a keyset's maturity has settled — or forfeits them if the
// keyset went inactive first.
package treasury

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
)

// PreMintSecret is one derived (secret, r, B_) tuple, grounded on
// bcr-wdc-treasury-service's PreMintSecrets entries (which in turn
// mirror the wallet-side NUT-13 deterministic-secret scheme, reused
// here mint-side).
type PreMintSecret struct {
	Amount uint64
	Secret string
	R      *secp256k1.PrivateKey
	Blind  cashu.BlindedMessage
}

// PreMintSecrets is a request's full batch of derived blinds, kept
// until its signatures arrive (or the keyset goes inactive first).
type PreMintSecrets struct {
	KeysetID keys.KeysetID
	Secrets  []PreMintSecret
}

// PremintSignatures ties a request id to the signatures the sat-side
// Key Factory returned for it.
type PremintSignatures struct {
	RequestID  uuid.UUID
	Signatures cashu.BlindedSignatures
}

// KeysetBalance is one keyset id's running total of unblinded, still
// unswept proof amounts.
type KeysetBalance struct {
	KeysetID keys.KeysetID
	Amount   uint64
}
