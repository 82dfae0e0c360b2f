package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut10"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut11"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut14"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut20"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
)

// Factory is component A: it derives keysets from the mint's seed,
// signs and verifies blind-signature proofs against them, and keeps
// the rotation/activation bookkeeping the repository needs.
type Factory struct {
	master     *hdkeychain.ExtendedKey
	unit       string
	keysets    KeysetRepository
	mintOps    MintOperationRepository
	signatures SignatureStore
	clock      Clock
	logger     mlog.Logger

	// IdempotentMint controls replay behavior for Sign: when true
	// (the default), re-signing an already-seen B_ returns the
	// previously stored signature instead of erroring.
	IdempotentMint bool
}

// WithLogger attaches a logger; a Factory with no logger attached
// simply does not log (mlog.Logger is a no-op zero value).
func (f *Factory) WithLogger(l *slog.Logger) *Factory {
	f.logger = mlog.Logger{L: l}
	return f
}

// NewFactory builds a Factory whose master key is derived from mnemonic
// (BIP39, empty passphrase). unit tags every keyset this Factory
// generates (keys.UnitCrsat or keys.UnitSat) — the engine keeps one
// Factory per side of the mint, each walking its own derivation tree.
func NewFactory(mnemonic string, unit string, keysets KeysetRepository, mintOps MintOperationRepository, signatures SignatureStore, idempotentMint bool) (*Factory, error) {
	master, err := MasterFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	return &Factory{
		master:         master,
		unit:           unit,
		keysets:        keysets,
		mintOps:        mintOps,
		signatures:     signatures,
		clock:          SystemClock,
		IdempotentMint: idempotentMint,
	}, nil
}

// GetKeysetIdForDate returns the active maturity-bound keyset whose
// final_expiry day bucket covers date, preferring the highest rotation
// index among keysets sharing that bucket (the most recently rotated
// one wins).
func (f *Factory) GetKeysetIdForDate(ctx context.Context, date time.Time) (KeysetID, error) {
	infos, err := f.keysets.ActiveMaturityKeysets(ctx)
	if err != nil {
		return "", err
	}

	bucket := daysSinceEpoch(date.Unix())

	var best *KeysetInfo
	for i := range infos {
		info := infos[i]
		if info.FinalExpiry == nil || info.RotationIndex == nil {
			continue
		}
		if daysSinceEpoch(*info.FinalExpiry) != bucket {
			continue
		}
		if best == nil || *info.RotationIndex > *best.RotationIndex {
			best = &info
		}
	}
	if best == nil {
		return "", cashu.UnknownKeysetErr
	}
	return best.Id, nil
}

// Generate derives and stores a fresh keyset. Exactly one of quoteID or
// maturity must be set: a quote-bound keyset extends the derivation
// path with the quote's four non-hardened children; a maturity-bound
// keyset extends it with a hardened (days_since_epoch, rotation_index)
// pair, locating the next free rotation index via the repository when
// rotationIndex is nil (original_source's replacing_id walk).
func (f *Factory) Generate(ctx context.Context, quoteID *uuid.UUID, maturity *time.Time, rotationIndex *uint32) (KeysetID, error) {
	switch {
	case quoteID != nil && maturity != nil:
		return "", fmt.Errorf("keyset cannot be both quote-bound and maturity-bound")
	case quoteID != nil:
		return f.generateQuoteBound(ctx, *quoteID)
	case maturity != nil:
		return f.generateMaturityBound(ctx, *maturity, rotationIndex)
	default:
		return "", fmt.Errorf("keyset must be quote-bound or maturity-bound")
	}
}

func (f *Factory) generateQuoteBound(ctx context.Context, quoteID uuid.UUID) (KeysetID, error) {
	path, pathStr, err := deriveQuotePath(f.master, f.unit, quoteID)
	if err != nil {
		return "", err
	}
	keyPairs, id, err := generateKeyset(path)
	if err != nil {
		return "", err
	}

	now := f.clock.Now().Unix()
	info := KeysetInfo{
		Id:             id,
		Unit:           f.unit,
		Active:         true,
		ValidFrom:      now,
		DerivationPath: pathStr,
		QuoteID:        &quoteID,
		MaxOrder:       MaxOrder,
	}
	if err := f.keysets.Store(ctx, Keyset{Info: info, Keys: keyPairs}); err != nil {
		return "", err
	}
	return id, nil
}

func (f *Factory) generateMaturityBound(ctx context.Context, maturity time.Time, rotationIndex *uint32) (KeysetID, error) {
	finalExpiry := maturity.Unix()

	var rotation uint32
	if rotationIndex != nil {
		rotation = *rotationIndex
	} else {
		next, err := f.keysets.NextRotation(ctx, finalExpiry)
		if err != nil {
			return "", err
		}
		rotation = next
	}

	path, pathStr, err := deriveMaturityPath(f.master, f.unit, daysSinceEpoch(finalExpiry), rotation)
	if err != nil {
		return "", err
	}
	keyPairs, id, err := generateKeyset(path)
	if err != nil {
		return "", err
	}

	now := f.clock.Now().Unix()
	rot := rotation
	info := KeysetInfo{
		Id:             id,
		Unit:           f.unit,
		Active:         true,
		ValidFrom:      now,
		FinalExpiry:    &finalExpiry,
		DerivationPath: pathStr,
		RotationIndex:  &rot,
		MaxOrder:       MaxOrder,
	}
	if err := f.keysets.Store(ctx, Keyset{Info: info, Keys: keyPairs}); err != nil {
		return "", err
	}
	return id, nil
}

// Lookup fetches a keyset by id, reporting ok=false (rather than an
// error) when the id is simply unknown to this Factory. The Engine
// uses this to decide swap regime (§4.D: "query the crsat Key
// Factory; if any [keyset id] is unknown to it...").
func (f *Factory) Lookup(ctx context.Context, id KeysetID) (*Keyset, bool, error) {
	ks, err := f.keysets.Load(ctx, id)
	if err != nil {
		if errors.Is(err, cashu.UnknownKeysetErr) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ks, true, nil
}

// ActiveKeysets loads every active keyset in full (public keys
// included), for the public /v1/keys listing.
func (f *Factory) ActiveKeysets(ctx context.Context) ([]Keyset, error) {
	infos, err := f.keysets.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Keyset, 0, len(infos))
	for _, info := range infos {
		ks, err := f.keysets.Load(ctx, info.Id)
		if err != nil {
			return nil, err
		}
		out = append(out, *ks)
	}
	return out, nil
}

// AllKeysetInfo returns every keyset's info regardless of activity, for
// the public /v1/keysets listing.
func (f *Factory) AllKeysetInfo(ctx context.Context) ([]KeysetInfo, error) {
	return f.keysets.ListAll(ctx)
}

// Deactivate flips a keyset's active flag off. Idempotent: deactivating
// an already-inactive keyset is not an error.
func (f *Factory) Deactivate(ctx context.Context, id KeysetID) error {
	if err := f.keysets.SetActive(ctx, id, false); err != nil {
		return err
	}
	f.logger.Infof("keyset %s deactivated", id)
	return nil
}

// Activate flips a keyset's active flag on (used by /admin/keysets/{keyset_id}/enable).
func (f *Factory) Activate(ctx context.Context, id KeysetID) error {
	if err := f.keysets.SetActive(ctx, id, true); err != nil {
		return err
	}
	f.logger.Infof("keyset %s activated", id)
	return nil
}

// Sign produces a BlindSignature for message under keysetID, attaching
// a NUT-12 DLEQ proof. When f.IdempotentMint is true, re-signing a
// previously seen B_ returns the original signature rather than
// minting a second one for the same blinded point; otherwise it is
// rejected with SignatureAlreadyExistsErr. This resolves the mint's
// replay-vs-idempotency behavior, surfaced here instead of hardcoded
// (see the repository's NewFactory constructor).
func (f *Factory) Sign(ctx context.Context, keysetID KeysetID, message cashu.BlindedMessage) (*BlindSignature, error) {
	if existing, ok, err := f.signatures.Load(ctx, message.B_); err != nil {
		return nil, err
	} else if ok {
		if f.IdempotentMint {
			f.logger.Debugf("sign replay for blinded point %s served from store", message.B_)
			return existing, nil
		}
		return nil, cashu.SignatureAlreadyExistsErr
	}

	keyset, err := f.keysets.Load(ctx, keysetID)
	if err != nil {
		return nil, err
	}
	if !keyset.Info.Active {
		f.logger.Errorf("refusing to sign against inactive keyset %s", keysetID)
		return nil, cashu.ActiveKeysetRequiredErr
	}

	keyPair, ok := keyset.Keys[message.Amount]
	if !ok {
		return nil, cashu.UnknownAmountForKeysetErr
	}

	bBytes, err := hex.DecodeString(message.B_)
	if err != nil {
		return nil, cashu.InvalidMintRequestErr
	}
	B_, err := secp256k1.ParsePubKey(bBytes)
	if err != nil {
		return nil, cashu.InvalidMintRequestErr
	}

	C_ := crypto.SignBlindedMessage(B_, keyPair.PrivateKey)
	e, s, err := crypto.GenerateDLEQ(keyPair.PrivateKey, B_)
	if err != nil {
		return nil, err
	}

	sig := &BlindSignature{
		Amount:   message.Amount,
		KeysetID: keysetID,
		C_Hex:    hex.EncodeToString(C_.SerializeCompressed()),
		DLEQ: &DLEQProof{
			E: hex.EncodeToString(e.Serialize()),
			S: hex.EncodeToString(s.Serialize()),
		},
	}
	if err := f.signatures.Store(ctx, message.B_, *sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// LoadSignature exposes a previously issued signature for the given
// blinded point hex, used by Restore (NUT-09) to recover a client's
// past mint/swap outputs.
func (f *Factory) LoadSignature(ctx context.Context, blindedPointHex string) (*BlindSignature, bool, error) {
	return f.signatures.Load(ctx, blindedPointHex)
}

// VerifyProof checks a proof's spending condition and its BDHKE
// signature against keyset. It dispatches on the NUT-10 secret kind:
// anyone-can-spend proofs are checked directly against the amount's
// private key; P2PK and HTLC proofs additionally require a valid
// witness before the BDHKE check runs.
func (f *Factory) VerifyProof(ctx context.Context, proof cashu.Proof, keyset *Keyset) error {
	keyPair, ok := keyset.Keys[proof.Amount]
	if !ok {
		return cashu.UnknownAmountForKeysetErr
	}

	switch nut10.SecretType(proof) {
	case nut10.P2PK:
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return cashu.InvalidProofErr
		}
		pubkeys, err := nut11.PublicKeys(secret)
		if err != nil {
			return err
		}
		var witness nut11.P2PKWitness
		if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil || len(witness.Signatures) == 0 {
			return nut11.EmptyWitnessErr
		}
		hashArr := sha256.Sum256([]byte(proof.Secret))
		hash := hashArr[:]
		tags, err := nut11.ParseP2PKTags(secret.Tags)
		if err != nil {
			return err
		}
		nsigs := tags.NSigs
		if nsigs < 1 {
			nsigs = 1
		}
		if !nut11.HasValidSignatures(hash, witness.Signatures, nsigs, pubkeys) {
			return nut11.NotEnoughSignaturesErr
		}
	case nut10.HTLC:
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if err := nut14.VerifyHTLCProof(proof, secret); err != nil {
			return err
		}
	}

	cBytes, err := hex.DecodeString(proof.C)
	if err != nil {
		return cashu.InvalidProofErr
	}
	C, err := secp256k1.ParsePubKey(cBytes)
	if err != nil {
		return cashu.InvalidProofErr
	}
	if !crypto.Verify([]byte(proof.Secret), keyPair.PrivateKey, C) {
		return cashu.InvalidProofErr
	}
	return nil
}

// Mint advances a MintOperation's minted counter by the total amount
// of outputs and signs each one, retrying the compare-and-swap update
// against concurrent partial mints (spec's §5 ordering guarantee: the
// MintOperation counter is the serialization point for a quote's
// minting allowance). Mint does not check the NUT-20 signature over
// quoteUID+outputs; the caller verifies it first with
// VerifyMintRequestSignature.
func (f *Factory) Mint(ctx context.Context, quoteUID uuid.UUID, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(outputs) == 0 {
		return nil, cashu.EmptyInputsOrOutputsErr
	}

	keysetID := KeysetID(outputs[0].Id)
	seenB := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		if KeysetID(out.Id) != keysetID {
			return nil, cashu.InvalidMintRequestErr
		}
		if out.Amount == 0 {
			return nil, cashu.ZeroAmountErr
		}
		if seenB[out.B_] {
			return nil, cashu.DuplicateOutputsErr
		}
		seenB[out.B_] = true
	}

	requested := outputs.Amount()

	for {
		op, err := f.mintOps.Load(ctx, quoteUID)
		if err != nil {
			return nil, err
		}
		if op.KeysetID != keysetID {
			return nil, cashu.InvalidMintRequestErr
		}
		if requested > op.RemainingAllowance() {
			return nil, cashu.MintAmountExceededErr
		}

		ok, err := f.mintOps.UpdateMinted(ctx, quoteUID, op.MintedAmount, op.MintedAmount+requested)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		// another concurrent partial mint updated minted in between;
		// reread and retry the allowance check.
	}

	sigs := make(cashu.BlindedSignatures, 0, len(outputs))
	for _, out := range outputs {
		sig, err := f.Sign(ctx, keysetID, out)
		if err != nil {
			return nil, err
		}
		c_Bytes, err := hex.DecodeString(sig.C_Hex)
		if err != nil {
			return nil, err
		}
		bs := cashu.BlindedSignature{
			Amount: sig.Amount,
			C_:     hex.EncodeToString(c_Bytes),
			Id:     string(sig.KeysetID),
		}
		if sig.DLEQ != nil {
			bs.DLEQ = &cashu.DLEQProof{E: sig.DLEQ.E, S: sig.DLEQ.S}
		}
		sigs = append(sigs, bs)
	}
	return sigs, nil
}

// VerifyMintRequestSignature checks the NUT-20 signed-mint-request
// scheme: the quote's bound public key must have produced a valid
// schnorr signature over quoteUID concatenated with the outputs' B_
// values.
func VerifyMintRequestSignature(boundPublicKey *secp256k1.PublicKey, quoteUID uuid.UUID, outputs cashu.BlindedMessages, signatureHex string) error {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return cashu.MintQuoteInvalidSigErr
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return cashu.MintQuoteInvalidSigErr
	}
	if !nut20.VerifyMintQuoteSignature(sig, quoteUID.String(), outputs, boundPublicKey) {
		return cashu.MintQuoteInvalidSigErr
	}
	return nil
}
