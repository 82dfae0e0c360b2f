package ebill

import (
	"fmt"
	"sync"
)

// FakeClient is a deterministic, in-memory Client test double, adapted
// from mint/lightning/fakebackend.go's in-memory-map style: shared
// bills are registered ahead of time by a test and handed back
// verbatim (or rejected) on validate/decrypt, no network involved.
type FakeClient struct {
	mu    sync.Mutex
	known map[string]BillInfo
}

func NewFakeClient() *FakeClient {
	return &FakeClient{known: make(map[string]BillInfo)}
}

// Register makes shared act as a valid, decryptable stand-in for info
// in subsequent ValidateAndDecryptSharedBill calls.
func (c *FakeClient) Register(shared SharedBill, info BillInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[string(shared.Data)] = info
}

func (c *FakeClient) ValidateAndDecryptSharedBill(shared SharedBill) (BillInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.known[string(shared.Data)]
	if !ok {
		return BillInfo{}, fmt.Errorf("shared bill not recognized by eBill node")
	}
	return info, nil
}

var _ Client = (*FakeClient)(nil)
