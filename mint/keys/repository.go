package keys

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// KeysetRepository is the narrow capability interface the Key Factory
// uses for keyset persistence (spec.md §9: "narrow single-method
// capability interfaces; do not let the Engine hold a reference to the
// Factory's internals").
type KeysetRepository interface {
	// Store persists a freshly generated keyset. Fails if Info.Id
	// already exists (K2: at most one keyset per (maturity_date,
	// rotation_index)).
	Store(ctx context.Context, ks Keyset) error
	// Load fetches one keyset by id.
	Load(ctx context.Context, id KeysetID) (*Keyset, error)
	// SetActive flips the active flag on a stored keyset's info.
	SetActive(ctx context.Context, id KeysetID, active bool) error
	// ActiveMaturityKeysets returns all active maturity-bound keysets'
	// info, used by GetKeysetIdForDate.
	ActiveMaturityKeysets(ctx context.Context) ([]KeysetInfo, error)
	// NextRotation returns the rotation index that should be used for
	// a fresh keyset at the given maturity date: one past the highest
	// existing rotation index for that date, or 0 if none exists.
	// Grounded on original_source's SwapRepository::replacing_id walk.
	NextRotation(ctx context.Context, finalExpiry int64) (uint32, error)
	// ListActive returns every active keyset's info, quote-bound and
	// maturity-bound alike — the public /v1/keys listing's source.
	ListActive(ctx context.Context) ([]KeysetInfo, error)
	// ListAll returns every keyset's info regardless of activity — the
	// public /v1/keysets listing's source.
	ListAll(ctx context.Context) ([]KeysetInfo, error)
}

// MintOperationRepository persists per-quote mint ledgers.
type MintOperationRepository interface {
	// Create inserts a brand-new MintOperation (target set, minted=0).
	Create(ctx context.Context, op MintOperation) error
	// Load fetches the MintOperation by quote uid.
	Load(ctx context.Context, uid uuid.UUID) (*MintOperation, error)
	// UpdateMinted performs the compare-and-swap update spec.md §9
	// asks for: it succeeds (ok=true) only if the persisted minted
	// amount still equals oldMinted, atomically setting it to
	// newMinted. This is the serialization point for concurrent
	// partial mints (M1, §5 ordering guarantees).
	UpdateMinted(ctx context.Context, uid uuid.UUID, oldMinted, newMinted uint64) (ok bool, err error)
}

// SignatureStore is component B's BlindSignature side: unique on B_.
type SignatureStore interface {
	// Store persists sig keyed by its blinded point hex. Returns
	// cashu.SignatureAlreadyExistsErr if that key is already present.
	Store(ctx context.Context, blindedPointHex string, sig BlindSignature) error
	// Load fetches a previously stored signature, used to support
	// idempotent mint replay (see DESIGN.md's Open Question decision).
	Load(ctx context.Context, blindedPointHex string) (*BlindSignature, bool, error)
}

// BlindSignature mirrors spec.md §3's BlindSignature record.
type BlindSignature struct {
	Amount   uint64
	KeysetID KeysetID
	C_Hex    string
	DLEQ     *DLEQProof
}

// DLEQProof is the NUT-12 discrete-log-equality proof attached to a
// BlindSignature.
type DLEQProof struct {
	E string
	S string
}

// Clock abstracts wall-clock reads so tests can pin "now" (spec.md §9:
// "use the mint's wall clock; do not trust client-supplied timestamps").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock implementation.
var SystemClock Clock = systemClock{}
