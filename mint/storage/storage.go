// Package storage defines the persistence contract every backend
// (sqlite, bbolt) must satisfy. The teacher's own storage package
// lumps every concern into one MintDB interface; here four of the five
// components each already define their own narrow repository
// interface (mint/keys, mint/store, mint/quote, mint/treasury), and
// several of them share method names (Store, Load) with different
// signatures — keys.KeysetRepository.Load(ctx, KeysetID) is not the
// same method as quote.Repository.Load(ctx, uuid.UUID), so no single
// concrete type can implement every interface at once. Backend
// composes one small concrete type per concern instead, the way
// cmd/mint/mint.go composes the Mint's collaborators field-by-field.
package storage

import (
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
	"github.com/BitcreditProtocol/crsatmint/mint/store"
	"github.com/BitcreditProtocol/crsatmint/mint/treasury"
)

// Backend bundles one concrete implementation per component
// repository interface, all normally backed by the same underlying
// database handle, plus a Close that shuts that handle down.
type Backend struct {
	Keysets      keys.KeysetRepository
	MintOps      keys.MintOperationRepository
	Signatures   keys.SignatureStore
	Proofs       store.ProofStore
	Quotes       quote.Repository
	Treasury     treasury.Repository
	CloseBackend func() error
}

func (b *Backend) Close() error {
	if b.CloseBackend == nil {
		return nil
	}
	return b.CloseBackend()
}
