package quote

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
)

// RejectionRetention is how long a Rejected or OfferExpired quote
// blocks a fresh enquiry for the same (bill, endorser) pair before a
// new quote is allowed, grounded on the original credit-quote
// service's Service::REJECTION_RETENTION.
const RejectionRetention = 24 * time.Hour

// Repository is the narrow capability interface the quote Service uses
// for persistence.
type Repository interface {
	Load(ctx context.Context, id uuid.UUID) (*Quote, error)
	// Store inserts a brand-new quote.
	Store(ctx context.Context, q Quote) error
	// Update persists q's current, already-transitioned state,
	// overwriting the stored quote with the same ID; the stored status
	// is not compared first.
	Update(ctx context.Context, q Quote) error
	// SearchByBill returns every quote ever created for (billID,
	// endorser), most recent first or in any order — the Service sorts.
	SearchByBill(ctx context.Context, billID, endorser string) ([]Quote, error)
	ListPendings(ctx context.Context, since *time.Time) ([]uuid.UUID, error)
	ListOffers(ctx context.Context, since *time.Time) ([]uuid.UUID, error)
}

// Service implements the Enquire/Offer/Deny/.../Lookup operations.
// OfferTTL is the default time-to-live granted to a freshly offered
// quote when the admin does not specify one explicitly.
type Service struct {
	Repo     Repository
	Clock    func() time.Time
	OfferTTL time.Duration

	logger mlog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{Repo: repo, Clock: time.Now, OfferTTL: 2 * 24 * time.Hour}
}

// WithLogger attaches a logger; a Service with no logger attached
// simply does not log (mlog.Logger is a no-op zero value).
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = mlog.Logger{L: l}
	return s
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Enquire records a new quote request for (billID, endorser), or
// reuses/replaces a previous one per the bill's quote history. Enquire
// never errors on account of the prior quote's state: it either hands
// back an existing id or mints a fresh one.
//   - no prior quote: a brand-new quote is created.
//   - the most recent one is still non-terminal (Pending, Offered, or
//     Accepted): its id is returned unchanged.
//   - the most recent one is terminal (Denied, Canceled, Rejected, or
//     OfferExpired): its id is returned unchanged if the holder's
//     decision window (RejectionRetention) hasn't elapsed yet,
//     otherwise a brand-new quote is created.
func (s *Service) Enquire(ctx context.Context, billID, endorser string, publicKey *secp256k1.PublicKey) (uuid.UUID, error) {
	existing, err := s.Repo.SearchByBill(ctx, billID, endorser)
	if err != nil {
		return uuid.Nil, err
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Submitted.After(existing[j].Submitted)
	})

	now := s.now()

	if len(existing) == 0 {
		return s.newQuote(ctx, billID, endorser, publicKey, now)
	}

	latest := existing[0]
	if latest.CheckExpire(now) {
		if err := s.Repo.Update(ctx, latest); err != nil {
			return uuid.Nil, err
		}
	}

	switch latest.Status {
	case StatusPending, StatusOffered, StatusAccepted:
		return latest.ID, nil
	default: // Denied, Canceled, Rejected, OfferExpired
		if now.Sub(latest.Tstamp) > RejectionRetention {
			return s.newQuote(ctx, billID, endorser, publicKey, now)
		}
		return latest.ID, nil
	}
}

func (s *Service) newQuote(ctx context.Context, billID, endorser string, publicKey *secp256k1.PublicKey, now time.Time) (uuid.UUID, error) {
	q := New(billID, endorser, publicKey, now)
	if err := s.Repo.Store(ctx, q); err != nil {
		return uuid.Nil, err
	}
	return q.ID, nil
}

// Lookup returns a quote's up-to-date state, lazily resolving an
// expired offer first.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Quote, error) {
	q, err := s.Repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, cashu.UnknownQuoteIDErr
	}
	if q.CheckExpire(s.now()) {
		if err := s.Repo.Update(ctx, *q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Deny denies a pending quote.
func (s *Service) Deny(ctx context.Context, id uuid.UUID) error {
	q, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := q.Deny(s.now()); err != nil {
		return err
	}
	s.logger.Infof("quote %s denied", id)
	return s.Repo.Update(ctx, *q)
}

// Offer moves a pending quote to Offered with the given keyset and
// discounted amount, defaulting ttl to now+OfferTTL when zero.
func (s *Service) Offer(ctx context.Context, id uuid.UUID, keysetID keys.KeysetID, discounted uint64, ttl time.Time) error {
	q, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if ttl.IsZero() {
		ttl = s.now().Add(s.OfferTTL)
	}
	if err := q.Offer(keysetID, discounted, ttl); err != nil {
		return err
	}
	s.logger.Infof("quote %s offered %d against keyset %s, ttl %s", id, discounted, keysetID, ttl)
	return s.Repo.Update(ctx, *q)
}

// Reject rejects an offered quote (the holder declined it).
func (s *Service) Reject(ctx context.Context, id uuid.UUID) error {
	q, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := q.Reject(s.now()); err != nil {
		return err
	}
	return s.Repo.Update(ctx, *q)
}

// Accept accepts an offered quote (the holder committed to minting).
func (s *Service) Accept(ctx context.Context, id uuid.UUID) error {
	q, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := q.Accept(); err != nil {
		return err
	}
	return s.Repo.Update(ctx, *q)
}

// Cancel cancels a quote that is still Pending; a quote in any other
// status is refused.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	q, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := q.Cancel(s.now()); err != nil {
		return err
	}
	return s.Repo.Update(ctx, *q)
}

func (s *Service) ListPendings(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	return s.Repo.ListPendings(ctx, since)
}

func (s *Service) ListOffers(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	return s.Repo.ListOffers(ctx, since)
}
