// Package store implements component B: the signature and spent-proof
// stores that back double-spend prevention and blind-signature
// idempotency. mint/keys.SignatureStore is implemented here too, kept
// alongside ProofStore because both are uniqueness indexes over the
// same kind of data (one keyed on B_, the other on Y) and share the
// in-memory/sql storage pattern the teacher's mint/storage package
// uses for its proof and blind-signature tables.
package store

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
)

// ProofState mirrors NUT-07's spent/unspent/pending vocabulary.
type ProofState int

const (
	Unspent ProofState = iota
	Spent
	Pending
)

// SpentProof is the persisted record for a consumed input, unique on Y
// (P1).
type SpentProof struct {
	Y        string
	Amount   uint64
	KeysetID keys.KeysetID
	Secret   string
	Witness  string
}

// ProofStore is the narrow capability interface the Engine uses to
// enforce double-spend prevention. Insert is the system's double-spend
// serialization point (spec's §5 ordering guarantee): it must accept
// or reject an entire batch atomically, never partially.
type ProofStore interface {
	// Insert adds proofs as spent, atomically. If any Y in the batch is
	// already present, no proof in the batch is inserted and
	// cashu.ProofAlreadyUsedErr is returned.
	Insert(ctx context.Context, proofs []SpentProof) error
	// Remove deletes spent records for the given Ys (called only by
	// test fixtures; no request path removes a spent record).
	Remove(ctx context.Context, ys []string) error
	// Contains reports whether Y is already recorded as spent.
	Contains(ctx context.Context, y string) (*SpentProof, bool, error)
	// ContainsAny checks a batch in one call, for CheckState (NUT-07).
	ContainsAny(ctx context.Context, ys []string) (map[string]SpentProof, error)
}

// SecretToY computes Y = hash_to_curve(secret), hex-encoded compressed,
// the identity a SpentProof and a checkstate lookup are keyed on.
func SecretToY(secret string) string {
	point := crypto.HashToCurve([]byte(secret))
	return hex.EncodeToString(point.SerializeCompressed())
}

// InMemoryProofStore is a mutex-guarded map implementation, suitable
// for tests and for the memory storage backend.
type InMemoryProofStore struct {
	mu  sync.Mutex
	byY map[string]SpentProof
}

func NewInMemoryProofStore() *InMemoryProofStore {
	return &InMemoryProofStore{byY: make(map[string]SpentProof)}
}

func (s *InMemoryProofStore) Insert(ctx context.Context, proofs []SpentProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range proofs {
		if _, exists := s.byY[p.Y]; exists {
			return cashu.ProofAlreadyUsedErr
		}
	}
	for _, p := range proofs {
		s.byY[p.Y] = p
	}
	return nil
}

func (s *InMemoryProofStore) Remove(ctx context.Context, ys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, y := range ys {
		delete(s.byY, y)
	}
	return nil
}

func (s *InMemoryProofStore) Contains(ctx context.Context, y string) (*SpentProof, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byY[y]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (s *InMemoryProofStore) ContainsAny(ctx context.Context, ys []string) (map[string]SpentProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]SpentProof)
	for _, y := range ys {
		if p, ok := s.byY[y]; ok {
			found[y] = p
		}
	}
	return found, nil
}

// InMemorySignatureStore implements keys.SignatureStore, unique on B_.
type InMemorySignatureStore struct {
	mu   sync.Mutex
	sigs map[string]keys.BlindSignature
}

func NewInMemorySignatureStore() *InMemorySignatureStore {
	return &InMemorySignatureStore{sigs: make(map[string]keys.BlindSignature)}
}

func (s *InMemorySignatureStore) Store(ctx context.Context, blindedPointHex string, sig keys.BlindSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sigs[blindedPointHex]; exists {
		return cashu.SignatureAlreadyExistsErr
	}
	s.sigs[blindedPointHex] = sig
	return nil
}

func (s *InMemorySignatureStore) Load(ctx context.Context, blindedPointHex string) (*keys.BlindSignature, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.sigs[blindedPointHex]
	if !ok {
		return nil, false, nil
	}
	return &sig, true, nil
}

var _ keys.SignatureStore = (*InMemorySignatureStore)(nil)
