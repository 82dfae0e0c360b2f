package ebill

import (
	"reflect"
	"testing"
)

func TestFakeClientValidatesRegisteredSharedBill(t *testing.T) {
	c := NewFakeClient()
	shared := SharedBill{Data: []byte("encrypted-blob-1")}
	want := BillInfo{BillID: "bill-1", Sum: 1000, MaturityDate: "2026-12-01"}
	c.Register(shared, want)

	got, err := c.ValidateAndDecryptSharedBill(shared)
	if err != nil {
		t.Fatalf("ValidateAndDecryptSharedBill: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFakeClientRejectsUnknownSharedBill(t *testing.T) {
	c := NewFakeClient()
	if _, err := c.ValidateAndDecryptSharedBill(SharedBill{Data: []byte("never-registered")}); err == nil {
		t.Fatalf("expected an error for an unrecognized shared bill")
	}
}
