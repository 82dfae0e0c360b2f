package sqlite

import (
	"context"
	"math/rand/v2"
	"os"
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

func TestKeysetStoreRoundtrip(t *testing.T) {
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
			4: generateKeyPair(t),
		},
	}

	if err := backend.Keysets.Store(ctx, ks); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := backend.Keysets.Load(ctx, ks.Info.Id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Info.Unit != ks.Info.Unit || loaded.Info.DerivationPath != ks.Info.DerivationPath {
		t.Fatalf("loaded info mismatch: %+v", loaded.Info)
	}
	if len(loaded.Keys) != len(ks.Keys) {
		t.Fatalf("expected %d keys, got %d", len(ks.Keys), len(loaded.Keys))
	}
	for amount, kp := range ks.Keys {
		got, ok := loaded.Keys[amount]
		if !ok {
			t.Fatalf("missing key for amount %d", amount)
		}
		if got.PublicKey.SerializeCompressed()[0] != kp.PublicKey.SerializeCompressed()[0] {
			t.Fatalf("pubkey mismatch for amount %d", amount)
		}
	}

	if err := backend.Keysets.SetActive(ctx, ks.Info.Id, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	loaded, err = backend.Keysets.Load(ctx, ks.Info.Id)
	if err != nil {
		t.Fatalf("Load after SetActive: %v", err)
	}
	if loaded.Info.Active {
		t.Fatal("expected keyset to be inactive")
	}

	active, err := backend.Keysets.ActiveMaturityKeysets(ctx)
	if err != nil {
		t.Fatalf("ActiveMaturityKeysets: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active maturity keysets after deactivation, got %d", len(active))
	}

	next, err := backend.Keysets.NextRotation(ctx, final)
	if err != nil {
		t.Fatalf("NextRotation: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected next rotation 1, got %d", next)
	}
}

func TestKeysetStoreLoadUnknown(t *testing.T) {
	backend := newTestBackend(t)
	_, err := backend.Keysets.Load(context.Background(), keys.KeysetID("nonexistent"))
	if err != cashu.UnknownKeysetErr {
		t.Fatalf("expected UnknownKeysetErr, got %v", err)
	}
}

func TestMintOperationStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	op := keys.MintOperation{
		UID:          uuid.New(),
		KeysetID:     keys.KeysetID("ks1"),
		TargetAmount: 1000,
		MintedAmount: 0,
	}
	if err := backend.MintOps.Create(ctx, op); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := backend.MintOps.Load(ctx, op.UID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TargetAmount != op.TargetAmount {
		t.Fatalf("expected target %d, got %d", op.TargetAmount, loaded.TargetAmount)
	}

	ok, err := backend.MintOps.UpdateMinted(ctx, op.UID, 0, 400)
	if err != nil {
		t.Fatalf("UpdateMinted: %v", err)
	}
	if !ok {
		t.Fatal("expected UpdateMinted to succeed")
	}

	ok, err = backend.MintOps.UpdateMinted(ctx, op.UID, 0, 900)
	if err != nil {
		t.Fatalf("UpdateMinted stale CAS: %v", err)
	}
	if ok {
		t.Fatal("expected stale compare-and-swap to fail")
	}

	loaded, err = backend.MintOps.Load(ctx, op.UID)
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if loaded.MintedAmount != 400 {
		t.Fatalf("expected minted 400, got %d", loaded.MintedAmount)
	}

	_, err = backend.MintOps.Load(ctx, uuid.New())
	if err != cashu.UnknownQuoteIDErr {
		t.Fatalf("expected UnknownQuoteIDErr, got %v", err)
	}
}

func TestSignatureStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	b_ := generateRandomString(66)
	sig := keys.BlindSignature{
		Amount:   8,
		KeysetID: keys.KeysetID("ks1"),
		C_Hex:    generateRandomString(66),
		DLEQ:     &keys.DLEQProof{E: generateRandomString(32), S: generateRandomString(32)},
	}

	if err := backend.Signatures.Store(ctx, b_, sig); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, found, err := backend.Signatures.Load(ctx, b_)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected signature to be found")
	}
	if loaded.C_Hex != sig.C_Hex || loaded.DLEQ.E != sig.DLEQ.E {
		t.Fatalf("loaded signature mismatch: %+v", loaded)
	}

	if err := backend.Signatures.Store(ctx, b_, sig); err != cashu.SignatureAlreadyExistsErr {
		t.Fatalf("expected SignatureAlreadyExistsErr, got %v", err)
	}

	_, found, err = backend.Signatures.Load(ctx, generateRandomString(66))
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if found {
		t.Fatal("expected not found for unknown blinded point")
	}
}

func generateSpentProofs(num int) []store.SpentProof {
	proofs := make([]store.SpentProof, num)
	for i := range proofs {
		secret := generateRandomString(64)
		proofs[i] = store.SpentProof{
			Y:        store.SecretToY(secret),
			Amount:   21,
			KeysetID: keys.KeysetID("ks1"),
			Secret:   secret,
		}
	}
	return proofs
}

func TestProofStore(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	proofs := generateSpentProofs(50)
	if err := backend.Proofs.Insert(ctx, proofs); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ys := make([]string, 20)
	for i := 0; i < 20; i++ {
		ys[i] = proofs[i].Y
	}

	found, err := backend.Proofs.ContainsAny(ctx, ys)
	if err != nil {
		t.Fatalf("ContainsAny: %v", err)
	}
	if len(found) != 20 {
		t.Fatalf("expected 20 found, got %d", len(found))
	}

	p, ok, err := backend.Proofs.Contains(ctx, proofs[0].Y)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok || p.Secret != proofs[0].Secret {
		t.Fatalf("Contains mismatch: %+v", p)
	}

	if err := backend.Proofs.Insert(ctx, proofs[:1]); err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("expected ProofAlreadyUsedErr on re-insert, got %v", err)
	}

	if err := backend.Proofs.Remove(ctx, ys); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	found, err = backend.Proofs.ContainsAny(ctx, ys)
	if err != nil {
		t.Fatalf("ContainsAny after Remove: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected 0 found after Remove, got %d", len(found))
	}
}

func TestQuoteStore(t *testing.T) {
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
	if loaded == nil {
		t.Fatal("expected quote, got nil")
	}
	if loaded.BillID != q.BillID || loaded.Status != quote.StatusPending {
		t.Fatalf("loaded quote mismatch: %+v", loaded)
	}

	priv, _ := secp256k1.GeneratePrivateKey()
	loaded.Status = quote.StatusOffered
	loaded.PublicKey = priv.PubKey()
	loaded.KeysetID = keys.KeysetID("ks1")
	loaded.Discounted = 900
	loaded.TTL = time.Now().Add(time.Hour).Truncate(time.Second)
	if err := backend.Quotes.Update(ctx, *loaded); err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err = backend.Quotes.Load(ctx, q.ID)
	if err != nil {
		t.Fatalf("Load after Update: %v", err)
	}
	if loaded.Status != quote.StatusOffered || loaded.Discounted != 900 {
		t.Fatalf("updated quote mismatch: %+v", loaded)
	}
	if loaded.PublicKey == nil {
		t.Fatal("expected public key to survive update")
	}

	found, err := backend.Quotes.SearchByBill(ctx, "bill-1", "endorser-1")
	if err != nil {
		t.Fatalf("SearchByBill: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 result, got %d", len(found))
	}

	offers, err := backend.Quotes.ListOffers(ctx, nil)
	if err != nil {
		t.Fatalf("ListOffers: %v", err)
	}
	if len(offers) != 1 || offers[0] != q.ID {
		t.Fatalf("expected offers to contain %v, got %v", q.ID, offers)
	}

	pendings, err := backend.Quotes.ListPendings(ctx, nil)
	if err != nil {
		t.Fatalf("ListPendings: %v", err)
	}
	if len(pendings) != 0 {
		t.Fatalf("expected no pendings, got %v", pendings)
	}
}

func TestQuoteStoreLoadMissingReturnsNilNotError(t *testing.T) {
	backend := newTestBackend(t)
	q, err := backend.Quotes.Load(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error for missing quote, got %v", err)
	}
	if q != nil {
		t.Fatalf("expected nil quote, got %+v", q)
	}
}

func TestTreasuryCounters(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	kid := keys.KeysetID("ks1")

	next, err := backend.Treasury.NextCounter(ctx, kid)
	if err != nil {
		t.Fatalf("NextCounter: %v", err)
	}
	if next != 0 {
		t.Fatalf("expected 0, got %d", next)
	}

	if err := backend.Treasury.IncrementCounter(ctx, kid, 5); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if err := backend.Treasury.IncrementCounter(ctx, kid, 3); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}

	next, err = backend.Treasury.NextCounter(ctx, kid)
	if err != nil {
		t.Fatalf("NextCounter: %v", err)
	}
	if next != 8 {
		t.Fatalf("expected 8, got %d", next)
	}
}

func generatePreMintSecrets(t *testing.T, kid keys.KeysetID, num int) treasury.PreMintSecrets {
	t.Helper()
	secrets := make([]treasury.PreMintSecret, num)
	for i := range secrets {
		secret := generateRandomString(64)
		B_, r, err := crypto.BlindMessage([]byte(secret), nil)
		if err != nil {
			t.Fatalf("BlindMessage: %v", err)
		}
		secrets[i] = treasury.PreMintSecret{
			Amount: 1 << uint(i%6),
			Secret: secret,
			R:      r,
			Blind:  cashu.NewBlindedMessage(string(kid), 1<<uint(i%6), B_),
		}
	}
	return treasury.PreMintSecrets{KeysetID: kid, Secrets: secrets}
}

func TestTreasurySecretsRoundtrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	requestID := uuid.New()
	secrets := generatePreMintSecrets(t, keys.KeysetID("ks1"), 10)

	if err := backend.Treasury.StoreSecrets(ctx, requestID, secrets); err != nil {
		t.Fatalf("StoreSecrets: %v", err)
	}

	loaded, err := backend.Treasury.LoadSecrets(ctx, requestID)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if loaded.KeysetID != secrets.KeysetID {
		t.Fatalf("keyset id mismatch: %v", loaded.KeysetID)
	}
	if len(loaded.Secrets) != len(secrets.Secrets) {
		t.Fatalf("expected %d secrets, got %d", len(secrets.Secrets), len(loaded.Secrets))
	}
	for i, s := range secrets.Secrets {
		if loaded.Secrets[i].Secret != s.Secret || loaded.Secrets[i].Amount != s.Amount {
			t.Fatalf("secret %d mismatch: %+v vs %+v", i, loaded.Secrets[i], s)
		}
	}

	if err := backend.Treasury.DeleteSecrets(ctx, requestID); err != nil {
		t.Fatalf("DeleteSecrets: %v", err)
	}
	if _, err := backend.Treasury.LoadSecrets(ctx, requestID); err == nil {
		t.Fatal("expected error loading deleted secrets")
	}
}

func TestTreasuryPremintSignatures(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	requestID := uuid.New()

	signatures := make(cashu.BlindedSignatures, 5)
	for i := range signatures {
		signatures[i] = cashu.BlindedSignature{
			Amount: 1 << uint(i),
			Id:     "ks1",
			C_:     generateRandomString(66),
			DLEQ:   &cashu.DLEQProof{E: generateRandomString(32), S: generateRandomString(32)},
		}
	}

	if err := backend.Treasury.StorePremintSignatures(ctx, requestID, signatures); err != nil {
		t.Fatalf("StorePremintSignatures: %v", err)
	}

	all, err := backend.Treasury.ListPremintSignatures(ctx)
	if err != nil {
		t.Fatalf("ListPremintSignatures: %v", err)
	}
	if len(all) != 1 || all[0].RequestID != requestID {
		t.Fatalf("expected 1 entry for request %v, got %+v", requestID, all)
	}
	if len(all[0].Signatures) != len(signatures) {
		t.Fatalf("expected %d signatures, got %d", len(signatures), len(all[0].Signatures))
	}

	if err := backend.Treasury.DeletePremintSignatures(ctx, requestID); err != nil {
		t.Fatalf("DeletePremintSignatures: %v", err)
	}
	all, err = backend.Treasury.ListPremintSignatures(ctx)
	if err != nil {
		t.Fatalf("ListPremintSignatures after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no entries after delete, got %d", len(all))
	}
}

func TestTreasuryProofsAndBalance(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	proofs := make(cashu.Proofs, 10)
	for i := range proofs {
		proofs[i] = cashu.Proof{
			Amount: 21,
			Id:     "ks1",
			Secret: generateRandomString(64),
			C:      generateRandomString(66),
		}
	}

	if err := backend.Treasury.StoreProofs(ctx, proofs); err != nil {
		t.Fatalf("StoreProofs: %v", err)
	}

	balances, err := backend.Treasury.BalanceByKeyset(ctx)
	if err != nil {
		t.Fatalf("BalanceByKeyset: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected 1 keyset balance, got %d", len(balances))
	}
	if balances[0].KeysetID != keys.KeysetID("ks1") || balances[0].Amount != 210 {
		t.Fatalf("unexpected balance: %+v", balances[0])
	}
}

func TestMigrationsDirCleanup(t *testing.T) {
	dir, err := migrationsDir()
	if err != nil {
		t.Fatalf("migrationsDir: %v", err)
	}
	defer os.RemoveAll(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected migration files to be copied")
	}
}
