package bolt

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
	"github.com/BitcreditProtocol/crsatmint/mint/storage"
	"github.com/BitcreditProtocol/crsatmint/mint/store"
	"github.com/BitcreditProtocol/crsatmint/mint/treasury"
)

func newTestBackend(t *testing.T) *storage.Backend {
	t.Helper()
	dir := t.TempDir()
	backend, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func generateRandomString(length int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func generateKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	return crypto.KeyPair{PrivateKey: priv, PublicKey: priv.PubKey()}
}

func TestBoltKeysetStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	final := time.Now().Add(24 * time.Hour).Unix()
	rotation := uint32(0)
	ks := keys.Keyset{
		Info: keys.KeysetInfo{
			Id:             keys.KeysetID(generateRandomString(16)),
			Unit:           keys.UnitCrsat,
			Active:         true,
			ValidFrom:      time.Now().Unix(),
			FinalExpiry:    &final,
			DerivationPath: "m/0'/0'/0'",
			RotationIndex:  &rotation,
			InputFeePpk:    100,
			MaxOrder:       keys.MaxOrder,
		},
		Keys: map[uint64]crypto.KeyPair{
			1: generateKeyPair(t),
			2: generateKeyPair(t),
		},
	}

	if err := backend.Keysets.Store(ctx, ks); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := backend.Keysets.Store(ctx, ks); err == nil {
		t.Fatal("expected error storing duplicate keyset id")
	}

	loaded, err := backend.Keysets.Load(ctx, ks.Info.Id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(loaded.Keys))
	}

	if err := backend.Keysets.SetActive(ctx, ks.Info.Id, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, err := backend.Keysets.ActiveMaturityKeysets(ctx)
	if err != nil {
		t.Fatalf("ActiveMaturityKeysets: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected 0 active maturity keysets, got %d", len(active))
	}

	next, err := backend.Keysets.NextRotation(ctx, final)
	if err != nil {
		t.Fatalf("NextRotation: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected next rotation 1, got %d", next)
	}
}

func TestBoltKeysetLoadUnknown(t *testing.T) {
	backend := newTestBackend(t)
	if _, err := backend.Keysets.Load(context.Background(), keys.KeysetID("missing")); err != cashu.UnknownKeysetErr {
		t.Fatalf("expected UnknownKeysetErr, got %v", err)
	}
}

func TestBoltMintOperationStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	op := keys.MintOperation{UID: uuid.New(), KeysetID: keys.KeysetID("ks1"), TargetAmount: 500}
	if err := backend.MintOps.Create(ctx, op); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := backend.MintOps.UpdateMinted(ctx, op.UID, 0, 200)
	if err != nil {
		t.Fatalf("UpdateMinted: %v", err)
	}
	if !ok {
		t.Fatal("expected UpdateMinted success")
	}

	ok, err = backend.MintOps.UpdateMinted(ctx, op.UID, 0, 300)
	if err != nil {
		t.Fatalf("UpdateMinted stale: %v", err)
	}
	if ok {
		t.Fatal("expected stale CAS to fail")
	}

	loaded, err := backend.MintOps.Load(ctx, op.UID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MintedAmount != 200 {
		t.Fatalf("expected minted 200, got %d", loaded.MintedAmount)
	}
}

func TestBoltSignatureStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	b_ := generateRandomString(66)
	sig := keys.BlindSignature{Amount: 8, KeysetID: keys.KeysetID("ks1"), C_Hex: generateRandomString(66)}
	if err := backend.Signatures.Store(ctx, b_, sig); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := backend.Signatures.Store(ctx, b_, sig); err != cashu.SignatureAlreadyExistsErr {
		t.Fatalf("expected SignatureAlreadyExistsErr, got %v", err)
	}

	_, found, err := backend.Signatures.Load(ctx, generateRandomString(66))
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestBoltProofStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	proofs := make([]store.SpentProof, 10)
	for i := range proofs {
		secret := generateRandomString(64)
		proofs[i] = store.SpentProof{Y: store.SecretToY(secret), Amount: 21, KeysetID: "ks1", Secret: secret}
	}

	if err := backend.Proofs.Insert(ctx, proofs); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := backend.Proofs.Insert(ctx, proofs[:1]); err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("expected ProofAlreadyUsedErr, got %v", err)
	}

	ys := []string{proofs[0].Y, proofs[1].Y}
	found, err := backend.Proofs.ContainsAny(ctx, ys)
	if err != nil {
		t.Fatalf("ContainsAny: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 found, got %d", len(found))
	}

	if err := backend.Proofs.Remove(ctx, ys); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_, ok, err := backend.Proofs.Contains(ctx, ys[0])
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("expected proof to be removed")
	}
}

func TestBoltQuoteStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	q := quote.Quote{
		ID:        uuid.New(),
		BillID:    "bill-1",
		Endorser:  "endorser-1",
		Submitted: time.Now().Truncate(time.Second),
		Status:    quote.StatusPending,
	}
	if err := backend.Quotes.Store(ctx, q); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := backend.Quotes.Load(ctx, q.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != quote.StatusPending {
		t.Fatalf("unexpected status: %v", loaded.Status)
	}

	loaded.Status = quote.StatusOffered
	if err := backend.Quotes.Update(ctx, *loaded); err != nil {
		t.Fatalf("Update: %v", err)
	}

	offers, err := backend.Quotes.ListOffers(ctx, nil)
	if err != nil {
		t.Fatalf("ListOffers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}

	results, err := backend.Quotes.SearchByBill(ctx, "bill-1", "endorser-1")
	if err != nil {
		t.Fatalf("SearchByBill: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestBoltQuoteLoadMissingReturnsNilNotError(t *testing.T) {
	backend := newTestBackend(t)
	q, err := backend.Quotes.Load(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if q != nil {
		t.Fatalf("expected nil quote, got %+v", q)
	}
}

func TestBoltTreasuryCounters(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	kid := keys.KeysetID("ks1")

	if err := backend.Treasury.IncrementCounter(ctx, kid, 4); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if err := backend.Treasury.IncrementCounter(ctx, kid, 6); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}

	next, err := backend.Treasury.NextCounter(ctx, kid)
	if err != nil {
		t.Fatalf("NextCounter: %v", err)
	}
	if next != 10 {
		t.Fatalf("expected 10, got %d", next)
	}
}

func TestBoltTreasurySecretsAndSignatures(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	requestID := uuid.New()

	secrets := make([]treasury.PreMintSecret, 5)
	for i := range secrets {
		secret := generateRandomString(64)
		B_, r, err := crypto.BlindMessage([]byte(secret), nil)
		if err != nil {
			t.Fatalf("BlindMessage: %v", err)
		}
		secrets[i] = treasury.PreMintSecret{
			Amount: 1 << uint(i),
			Secret: secret,
			R:      r,
			Blind:  cashu.NewBlindedMessage("ks1", 1<<uint(i), B_),
		}
	}
	pms := treasury.PreMintSecrets{KeysetID: "ks1", Secrets: secrets}

	if err := backend.Treasury.StoreSecrets(ctx, requestID, pms); err != nil {
		t.Fatalf("StoreSecrets: %v", err)
	}
	loaded, err := backend.Treasury.LoadSecrets(ctx, requestID)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if len(loaded.Secrets) != len(secrets) {
		t.Fatalf("expected %d secrets, got %d", len(secrets), len(loaded.Secrets))
	}

	signatures := make(cashu.BlindedSignatures, len(secrets))
	for i := range signatures {
		signatures[i] = cashu.BlindedSignature{Amount: secrets[i].Amount, Id: "ks1", C_: generateRandomString(66)}
	}
	if err := backend.Treasury.StorePremintSignatures(ctx, requestID, signatures); err != nil {
		t.Fatalf("StorePremintSignatures: %v", err)
	}

	all, err := backend.Treasury.ListPremintSignatures(ctx)
	if err != nil {
		t.Fatalf("ListPremintSignatures: %v", err)
	}
	if len(all) != 1 || len(all[0].Signatures) != len(signatures) {
		t.Fatalf("unexpected premint signatures: %+v", all)
	}

	if err := backend.Treasury.DeleteSecrets(ctx, requestID); err != nil {
		t.Fatalf("DeleteSecrets: %v", err)
	}
	if err := backend.Treasury.DeletePremintSignatures(ctx, requestID); err != nil {
		t.Fatalf("DeletePremintSignatures: %v", err)
	}
}

func TestBoltTreasuryProofsAndBalance(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	proofs := make(cashu.Proofs, 5)
	for i := range proofs {
		proofs[i] = cashu.Proof{Amount: 21, Id: "ks1", Secret: generateRandomString(64), C: generateRandomString(66)}
	}
	if err := backend.Treasury.StoreProofs(ctx, proofs); err != nil {
		t.Fatalf("StoreProofs: %v", err)
	}

	balances, err := backend.Treasury.BalanceByKeyset(ctx)
	if err != nil {
		t.Fatalf("BalanceByKeyset: %v", err)
	}
	if len(balances) != 1 || balances[0].Amount != 105 {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}
