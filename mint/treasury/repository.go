package treasury

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
)

// Repository is the treasury's durable bookkeeping, grounded on
// bcr-wdc-treasury-service's credit::Repository trait: counters,
// in-flight premint secrets, their eventual signatures, and the
// proofs that survive unblinding.
type Repository interface {
	NextCounter(ctx context.Context, kid keys.KeysetID) (uint32, error)
	IncrementCounter(ctx context.Context, kid keys.KeysetID, inc uint32) error

	StoreSecrets(ctx context.Context, requestID uuid.UUID, secrets PreMintSecrets) error
	LoadSecrets(ctx context.Context, requestID uuid.UUID) (PreMintSecrets, error)
	DeleteSecrets(ctx context.Context, requestID uuid.UUID) error

	StorePremintSignatures(ctx context.Context, requestID uuid.UUID, signatures cashu.BlindedSignatures) error
	ListPremintSignatures(ctx context.Context) ([]PremintSignatures, error)
	DeletePremintSignatures(ctx context.Context, requestID uuid.UUID) error

	StoreProofs(ctx context.Context, proofs cashu.Proofs) error
	BalanceByKeyset(ctx context.Context) ([]KeysetBalance, error)
}

// KeyLookup is the narrow slice of mint/keys.Factory the treasury
// needs: whether a keyset id is known, and if so its current activity
// and per-amount public keys. *keys.Factory satisfies this directly.
type KeyLookup interface {
	Lookup(ctx context.Context, id keys.KeysetID) (*keys.Keyset, bool, error)
}

// InMemoryRepository is a mutex-guarded map implementation of
// Repository, suitable for tests and the memory storage backend.
type InMemoryRepository struct {
	mu sync.Mutex

	counters map[keys.KeysetID]uint32
	secrets  map[uuid.UUID]PreMintSecrets
	premints map[uuid.UUID]cashu.BlindedSignatures
	proofs   cashu.Proofs
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		counters: make(map[keys.KeysetID]uint32),
		secrets:  make(map[uuid.UUID]PreMintSecrets),
		premints: make(map[uuid.UUID]cashu.BlindedSignatures),
	}
}

func (r *InMemoryRepository) NextCounter(ctx context.Context, kid keys.KeysetID) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[kid], nil
}

func (r *InMemoryRepository) IncrementCounter(ctx context.Context, kid keys.KeysetID, inc uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[kid] += inc
	return nil
}

func (r *InMemoryRepository) StoreSecrets(ctx context.Context, requestID uuid.UUID, secrets PreMintSecrets) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[requestID] = secrets
	return nil
}

func (r *InMemoryRepository) LoadSecrets(ctx context.Context, requestID uuid.UUID) (PreMintSecrets, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.secrets[requestID]
	if !ok {
		return PreMintSecrets{}, cashu.BuildCashuError("unknown premint request id", cashu.StandardErrCode)
	}
	return s, nil
}

func (r *InMemoryRepository) DeleteSecrets(ctx context.Context, requestID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, requestID)
	return nil
}

func (r *InMemoryRepository) StorePremintSignatures(ctx context.Context, requestID uuid.UUID, signatures cashu.BlindedSignatures) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.premints[requestID] = signatures
	return nil
}

func (r *InMemoryRepository) ListPremintSignatures(ctx context.Context) ([]PremintSignatures, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PremintSignatures, 0, len(r.premints))
	for rid, sigs := range r.premints {
		out = append(out, PremintSignatures{RequestID: rid, Signatures: sigs})
	}
	return out, nil
}

func (r *InMemoryRepository) DeletePremintSignatures(ctx context.Context, requestID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.premints, requestID)
	return nil
}

func (r *InMemoryRepository) StoreProofs(ctx context.Context, proofs cashu.Proofs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proofs = append(r.proofs, proofs...)
	return nil
}

func (r *InMemoryRepository) BalanceByKeyset(ctx context.Context) ([]KeysetBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := make(map[keys.KeysetID]uint64)
	for _, p := range r.proofs {
		totals[keys.KeysetID(p.Id)] += p.Amount
	}
	out := make([]KeysetBalance, 0, len(totals))
	for kid, amount := range totals {
		out = append(out, KeysetBalance{KeysetID: kid, Amount: amount})
	}
	return out, nil
}

var _ Repository = (*InMemoryRepository)(nil)
