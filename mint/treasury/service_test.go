package treasury

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/store"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// memKeysetRepo/memMintOpRepo mirror the local test doubles in
// mint/engine's test file — each package keeps its own small copy
// rather than exporting test-only scaffolding from mint/keys.
type memKeysetRepo struct {
	mu sync.Mutex
	m  map[keys.KeysetID]keys.Keyset
}

func newMemKeysetRepo() *memKeysetRepo {
	return &memKeysetRepo{m: make(map[keys.KeysetID]keys.Keyset)}
}

func (r *memKeysetRepo) Store(ctx context.Context, ks keys.Keyset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[ks.Info.Id] = ks
	return nil
}

func (r *memKeysetRepo) Load(ctx context.Context, id keys.KeysetID) (*keys.Keyset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks, ok := r.m[id]
	if !ok {
		return nil, cashu.UnknownKeysetErr
	}
	return &ks, nil
}

func (r *memKeysetRepo) SetActive(ctx context.Context, id keys.KeysetID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks, ok := r.m[id]
	if !ok {
		return cashu.UnknownKeysetErr
	}
	ks.Info.Active = active
	r.m[id] = ks
	return nil
}

func (r *memKeysetRepo) ActiveMaturityKeysets(ctx context.Context) ([]keys.KeysetInfo, error) {
	return nil, nil
}

func (r *memKeysetRepo) ListActive(ctx context.Context) ([]keys.KeysetInfo, error) {
	return nil, nil
}

func (r *memKeysetRepo) ListAll(ctx context.Context) ([]keys.KeysetInfo, error) {
	return nil, nil
}

func (r *memKeysetRepo) NextRotation(ctx context.Context, finalExpiry int64) (uint32, error) {
	return 0, nil
}

type memMintOpRepo struct {
	mu sync.Mutex
	m  map[uuid.UUID]keys.MintOperation
}

func newMemMintOpRepo() *memMintOpRepo {
	return &memMintOpRepo{m: make(map[uuid.UUID]keys.MintOperation)}
}

func (r *memMintOpRepo) Create(ctx context.Context, op keys.MintOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[op.UID] = op
	return nil
}

func (r *memMintOpRepo) Load(ctx context.Context, uid uuid.UUID) (*keys.MintOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.m[uid]
	if !ok {
		return nil, cashu.UnknownQuoteIDErr
	}
	return &op, nil
}

func (r *memMintOpRepo) UpdateMinted(ctx context.Context, uid uuid.UUID, oldMinted, newMinted uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.m[uid]
	if !ok {
		return false, cashu.UnknownQuoteIDErr
	}
	if op.MintedAmount != oldMinted {
		return false, nil
	}
	op.MintedAmount = newMinted
	r.m[uid] = op
	return true, nil
}

// newTestFactory builds a *keys.Factory backed entirely by in-memory
// stores, seeded with one active keyset (kid) that can sign amounts
// 1..64.
func newTestFactory(t *testing.T, kid string) *keys.Factory {
	t.Helper()
	keysetRepo := newMemKeysetRepo()
	factory, err := keys.NewFactory(testMnemonic, keys.UnitCrsat, keysetRepo, newMemMintOpRepo(), store.NewInMemorySignatureStore(), true)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	keyPairs := make(map[uint64]crypto.KeyPair)
	for _, amount := range []uint64{1, 2, 4, 8, 16, 32, 64} {
		sk, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("GeneratePrivateKey: %v", err)
		}
		keyPairs[amount] = crypto.KeyPair{PrivateKey: sk, PublicKey: sk.PubKey()}
	}
	info := keys.KeysetInfo{Id: keys.KeysetID(kid), Unit: keys.UnitSat, Active: true, MaxOrder: keys.MaxOrder}
	if err := keysetRepo.Store(context.Background(), keys.Keyset{Info: info, Keys: keyPairs}); err != nil {
		t.Fatalf("seed keyset: %v", err)
	}
	return factory
}

func mustSign(t *testing.T, factory *keys.Factory, kid string, blind cashu.BlindedMessage) cashu.BlindedSignature {
	t.Helper()
	sig, err := factory.Sign(context.Background(), keys.KeysetID(kid), blind)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	bs := cashu.BlindedSignature{Amount: sig.Amount, C_: sig.C_Hex, Id: string(sig.KeysetID)}
	if sig.DLEQ != nil {
		bs.DLEQ = &cashu.DLEQProof{E: sig.DLEQ.E, S: sig.DLEQ.S}
	}
	return bs
}

func newTestService(t *testing.T, factory *keys.Factory) *Service {
	t.Helper()
	master, err := keys.MasterFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("MasterFromMnemonic: %v", err)
	}
	return NewService(master, NewInMemoryRepository(), factory)
}

func TestGetBlindsSplitsAmountIntoPowersOfTwoAndAdvancesCounter(t *testing.T) {
	factory := newTestFactory(t, "00aabbccddeeff00")
	svc := newTestService(t, factory)
	ctx := context.Background()

	rid, blinds, err := svc.GetBlinds(ctx, "00aabbccddeeff00", 13)
	if err != nil {
		t.Fatalf("GetBlinds: %v", err)
	}
	if rid == uuid.Nil {
		t.Fatalf("expected a non-nil request id")
	}

	gotAmounts := make([]uint64, len(blinds))
	var total uint64
	for i, b := range blinds {
		gotAmounts[i] = b.Amount
		total += b.Amount
		if b.Id != "00aabbccddeeff00" {
			t.Fatalf("blind %d has wrong keyset id %s", i, b.Id)
		}
	}
	if total != 13 {
		t.Fatalf("blinds sum to %d, want 13", total)
	}

	counter, err := svc.Repo.(*InMemoryRepository).NextCounter(ctx, "00aabbccddeeff00")
	if err != nil {
		t.Fatalf("NextCounter: %v", err)
	}
	if counter != uint32(len(blinds)) {
		t.Fatalf("counter = %d after deriving %d blinds, want them equal", counter, len(blinds))
	}

	// A second call must continue from the advanced counter, not
	// reuse the same derivation indices (§8 invariant 6).
	_, blinds2, err := svc.GetBlinds(ctx, "00aabbccddeeff00", 1)
	if err != nil {
		t.Fatalf("GetBlinds (2): %v", err)
	}
	if blinds2[0].B_ == blinds[0].B_ {
		t.Fatalf("second GetBlinds call reused the first blind's point")
	}
}

func TestBalanceUnblindsSignaturesFromActiveKeyset(t *testing.T) {
	factory := newTestFactory(t, "00aabbccddeeff00")
	svc := newTestService(t, factory)
	ctx := context.Background()

	rid, blinds, err := svc.GetBlinds(ctx, "00aabbccddeeff00", 13)
	if err != nil {
		t.Fatalf("GetBlinds: %v", err)
	}

	sigs := make(cashu.BlindedSignatures, len(blinds))
	for i, b := range blinds {
		sigs[i] = mustSign(t, factory, "00aabbccddeeff00", b)
	}
	if err := svc.StoreSignatures(ctx, rid, sigs, time.Time{}); err != nil {
		t.Fatalf("StoreSignatures: %v", err)
	}

	balance, err := svc.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 13 {
		t.Fatalf("balance = %d, want 13", balance)
	}

	// A second sweep must not double count: the premint pair was
	// already consumed and dropped.
	balance2, err := svc.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance (2): %v", err)
	}
	if balance2 != 13 {
		t.Fatalf("balance after re-sweep = %d, want 13 (idempotent)", balance2)
	}
}

func TestBalanceForfeitsSignaturesFromInactiveKeyset(t *testing.T) {
	factory := newTestFactory(t, "00aabbccddeeff00")
	svc := newTestService(t, factory)
	ctx := context.Background()

	rid, blinds, err := svc.GetBlinds(ctx, "00aabbccddeeff00", 13)
	if err != nil {
		t.Fatalf("GetBlinds: %v", err)
	}
	sigs := make(cashu.BlindedSignatures, len(blinds))
	for i, b := range blinds {
		sigs[i] = mustSign(t, factory, "00aabbccddeeff00", b)
	}
	if err := svc.StoreSignatures(ctx, rid, sigs, time.Time{}); err != nil {
		t.Fatalf("StoreSignatures: %v", err)
	}

	if err := factory.Deactivate(ctx, "00aabbccddeeff00"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	balance, err := svc.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 (forfeited to inactive keyset)", balance)
	}

	if _, err := svc.Repo.LoadSecrets(ctx, rid); err == nil {
		t.Fatalf("expected the forfeited request's secrets to have been dropped")
	}
}

func TestUnblindSignaturesRejectsLengthMismatch(t *testing.T) {
	_, err := unblindSignatures(
		cashu.BlindedSignatures{{Amount: 1, Id: "00aabbccddeeff00", C_: hex.EncodeToString([]byte{0x02})}},
		PreMintSecrets{KeysetID: "00aabbccddeeff00"},
		&keys.Keyset{Info: keys.KeysetInfo{Id: "00aabbccddeeff00"}},
	)
	if err == nil {
		t.Fatalf("expected a length-mismatch error")
	}
}
