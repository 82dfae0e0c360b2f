package store

import (
	"context"
	"testing"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
)

func TestProofStoreInsertRejectsDoubleSpend(t *testing.T) {
	ps := NewInMemoryProofStore()
	y := SecretToY("some-secret")
	batch := []SpentProof{{Y: y, Amount: 4}}

	if err := ps.Insert(context.Background(), batch); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := ps.Insert(context.Background(), batch); err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("expected ProofAlreadyUsedErr on replay, got %v", err)
	}
}

func TestProofStoreInsertIsAllOrNothing(t *testing.T) {
	ps := NewInMemoryProofStore()
	existing := SecretToY("already-spent")
	if err := ps.Insert(context.Background(), []SpentProof{{Y: existing, Amount: 1}}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	fresh := SecretToY("fresh-secret")
	batch := []SpentProof{{Y: fresh, Amount: 2}, {Y: existing, Amount: 1}}
	if err := ps.Insert(context.Background(), batch); err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("expected batch rejection, got %v", err)
	}

	if _, found, _ := ps.Contains(context.Background(), fresh); found {
		t.Fatalf("a rejected batch must not partially commit: %q should not be present", fresh)
	}
}

func TestProofStoreContainsAny(t *testing.T) {
	ps := NewInMemoryProofStore()
	y1 := SecretToY("a")
	y2 := SecretToY("b")
	y3 := SecretToY("c")
	if err := ps.Insert(context.Background(), []SpentProof{{Y: y1, Amount: 1}, {Y: y2, Amount: 2}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	found, err := ps.ContainsAny(context.Background(), []string{y1, y2, y3})
	if err != nil {
		t.Fatalf("ContainsAny: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 spent Ys found, got %d", len(found))
	}
	if _, ok := found[y3]; ok {
		t.Fatalf("unspent Y %q must not be reported as found", y3)
	}
}

func TestSignatureStoreUniqueOnB_(t *testing.T) {
	ss := NewInMemorySignatureStore()
	sig := keys.BlindSignature{Amount: 4, KeysetID: "00aabbccddeeff00", C_Hex: "02abcdef"}

	if err := ss.Store(context.Background(), "b-point-hex", sig); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := ss.Store(context.Background(), "b-point-hex", sig); err != cashu.SignatureAlreadyExistsErr {
		t.Fatalf("expected SignatureAlreadyExistsErr, got %v", err)
	}

	loaded, ok, err := ss.Load(context.Background(), "b-point-hex")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok || loaded.C_Hex != sig.C_Hex {
		t.Fatalf("Load did not return the stored signature")
	}
}
