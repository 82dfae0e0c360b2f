// Package ebill models the mint's narrow collaboration with the
// eBill node: it never parses or validates a bill itself (spec.md's
// "out of scope" list names the eBill node as the sole authority for
// that), only asks the node to validate and decrypt a shared-bill
// blob into the BillInfo the quote state machine enquires against.
// Grounded on original_source's bcr-wdc-ebill-client, which wraps the
// same single endpoint behind a narrow client, the way
// mint/lightning.Client wraps a Lightning node.
package ebill

// Client is the eBill node collaborator the quote enquiry path needs.
type Client interface {
	// ValidateAndDecryptSharedBill asks the eBill node to check a
	// shared-bill blob's authenticity and decrypt it into the bill
	// details a quote enquiry is created against.
	ValidateAndDecryptSharedBill(shared SharedBill) (BillInfo, error)
}

// SharedBill is the opaque, encrypted blob a holder submits alongside
// an enquiry; only the eBill node can open it.
type SharedBill struct {
	Data []byte
}

// BillInfo is the decrypted bill detail a Quote is enquired against
// (spec.md "Quote" type): bill_id, drawee, drawer, payee, endorsees,
// the current holder, the sum in satoshis, the maturity date, and an
// opaque list of attachment URLs.
type BillInfo struct {
	BillID        string
	Drawee        string
	Drawer        string
	Payee         string
	Endorsees     []string
	CurrentHolder string
	Sum           uint64
	MaturityDate  string
	FileURLs      []string
}
