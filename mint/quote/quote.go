// Package quote implements component C: the per-eBill quote state
// machine that sits between an enquiry and a minted keyset. The
// transition guards below follow the original credit-quote service's
// Quote::deny/offer/reject/accept methods; OfferExpired and Canceled
// extend that state machine with the two additional terminal states
// this mint's richer lifecycle needs.
package quote

import (
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
)

// Status is the discriminant of a Quote's current lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusOffered
	StatusAccepted
	StatusOfferExpired
	StatusCanceled
	StatusDenied
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusOffered:
		return "OFFERED"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusOfferExpired:
		return "OFFER_EXPIRED"
	case StatusCanceled:
		return "CANCELED"
	case StatusDenied:
		return "DENIED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Quote is a single eBill credit-quote request and its resolution.
// Only the fields relevant to the current Status are meaningful; the
// comments on the field groups below name the statuses that use them.
type Quote struct {
	ID        uuid.UUID
	BillID    string
	Endorser  string
	Submitted time.Time

	Status Status

	// Pending
	PublicKey *secp256k1.PublicKey

	// Offered / Accepted / OfferExpired
	KeysetID    keys.KeysetID
	Discounted  uint64
	TTL         time.Time

	// OfferExpired / Canceled / Denied / Rejected
	Tstamp time.Time
}

// New creates a brand-new pending quote. Every call to enquire that
// needs a fresh quote (no prior one, or the prior one's retention
// window lapsed) mints a new random UUID — a quote is never reused
// across eBill lifecycle attempts once resolved.
func New(billID, endorser string, publicKey *secp256k1.PublicKey, submitted time.Time) Quote {
	return Quote{
		ID:        uuid.New(),
		BillID:    billID,
		Endorser:  endorser,
		Submitted: submitted,
		Status:    StatusPending,
		PublicKey: publicKey,
	}
}

// Deny transitions Pending -> Denied (Q1: only a Pending quote may be denied).
func (q *Quote) Deny(tstamp time.Time) error {
	if q.Status != StatusPending {
		return quoteAlreadyResolved(q.ID)
	}
	q.Status = StatusDenied
	q.Tstamp = tstamp
	return nil
}

// Offer transitions Pending -> Offered, attaching the keyset that will
// sign this quote's eventual mint request and the discount applied.
func (q *Quote) Offer(keysetID keys.KeysetID, discounted uint64, ttl time.Time) error {
	if q.Status != StatusPending {
		return quoteAlreadyResolved(q.ID)
	}
	q.Status = StatusOffered
	q.KeysetID = keysetID
	q.Discounted = discounted
	q.TTL = ttl
	return nil
}

// Reject transitions Offered -> Rejected: the holder actively declined
// the offer (Q1/Q2: only an Offered quote may be rejected).
func (q *Quote) Reject(tstamp time.Time) error {
	if q.Status != StatusOffered {
		return quoteAlreadyResolved(q.ID)
	}
	q.Status = StatusRejected
	q.Tstamp = tstamp
	return nil
}

// Accept transitions Offered -> Accepted: the holder committed to
// minting against the offered keyset.
func (q *Quote) Accept() error {
	if q.Status != StatusOffered {
		return quoteAlreadyResolved(q.ID)
	}
	q.Status = StatusAccepted
	return nil
}

// Cancel transitions Pending -> Canceled, for an eBill that was
// withdrawn before the holder acted on it. Once a quote has been
// Offered, Reject or OfferExpired are the only ways out besides
// Accept — it can no longer be Canceled.
func (q *Quote) Cancel(tstamp time.Time) error {
	if q.Status != StatusPending {
		return quoteAlreadyResolved(q.ID)
	}
	q.Status = StatusCanceled
	q.Tstamp = tstamp
	return nil
}

// CheckExpire lazily transitions Offered -> OfferExpired once now has
// passed the quote's TTL; it is a no-op otherwise. Callers invoke this
// before inspecting Status (Lookup, Enquire) since expiry is a pure
// function of wall-clock time rather than an event the repository is
// told about directly.
func (q *Quote) CheckExpire(now time.Time) bool {
	if q.Status == StatusOffered && now.After(q.TTL) {
		q.Status = StatusOfferExpired
		q.Tstamp = now
		return true
	}
	return false
}

func quoteAlreadyResolved(id uuid.UUID) error {
	return cashu.BuildCashuError("quote "+id.String()+" has already been resolved", cashu.QuoteAlreadyResolvedCode)
}
