// Package engine implements component D: the mint/swap/burn/redeem
// engine that verifies and signs blinded messages and routes swaps
// between the crsat and sat sides by inspecting keyset provenance.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut07"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
	"github.com/BitcreditProtocol/crsatmint/mint/store"
)

// Regime is the swap-routing outcome of §4.D's dispatch algorithm.
type Regime int

const (
	RegimeSatSat Regime = iota
	RegimeCrsatSat
	RegimeCrsatCrsat
)

// Side bundles one currency side's (crsat or sat) dependencies: the
// Key Factory that signs and verifies its proofs, and the store that
// records its spent proofs.
type Side struct {
	Keys   *keys.Factory
	Proofs store.ProofStore
}

// Engine dispatches and executes swaps, burns, and redemptions across
// the crsat and sat sides, and answers the merged NUT-07/NUT-09
// queries.
type Engine struct {
	Crsat Side
	Sat   Side

	// RedeemRetries/RedeemBackoff bound the sat-side sign retry in
	// Redeem (§4.D: "retry up to 3 times with 1-second pauses").
	RedeemRetries int
	RedeemBackoff time.Duration
	// Sleep is time.Sleep by default; overridable so tests don't block
	// for real on RedeemBackoff.
	Sleep func(time.Duration)

	logger mlog.Logger
}

// New builds an Engine with the spec's default redeem retry policy
// (3 retries after the first attempt, 1-second pauses).
func New(crsat, sat Side) *Engine {
	return &Engine{
		Crsat:         crsat,
		Sat:           sat,
		RedeemRetries: 3,
		RedeemBackoff: time.Second,
		Sleep:         time.Sleep,
	}
}

// WithLogger attaches a logger; an Engine with no logger attached
// simply does not log (mlog.Logger is a no-op zero value).
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = mlog.Logger{L: l}
	return e
}

func proofY(secret string) string {
	return store.SecretToY(secret)
}

func uniqueKeysetIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func proofKeysetIDs(proofs cashu.Proofs) []string {
	ids := make([]string, len(proofs))
	for i, p := range proofs {
		ids[i] = p.Id
	}
	return uniqueKeysetIDs(ids)
}

func messageKeysetIDs(msgs cashu.BlindedMessages) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Id
	}
	return uniqueKeysetIDs(ids)
}

// regime implements §4.D's swap dispatch: every input keyset id must
// be known to the crsat Key Factory for the swap to stay on the crsat
// side at all; otherwise (including a mix of known and unknown ids)
// the whole swap routes to the sat mint. Given all-known inputs, an
// output keyset unknown to crsat means the sat side must mint it,
// i.e. a redeem.
func (e *Engine) regime(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) (Regime, error) {
	for _, id := range proofKeysetIDs(inputs) {
		_, known, err := e.Crsat.Keys.Lookup(ctx, keys.KeysetID(id))
		if err != nil {
			return 0, err
		}
		if !known {
			return RegimeSatSat, nil
		}
	}
	for _, id := range messageKeysetIDs(outputs) {
		_, known, err := e.Crsat.Keys.Lookup(ctx, keys.KeysetID(id))
		if err != nil {
			return 0, err
		}
		if !known {
			return RegimeCrsatSat, nil
		}
	}
	return RegimeCrsatCrsat, nil
}

// Swap is the public entry point for POST /v1/swap: it decides the
// regime and executes the matching path.
func (e *Engine) Swap(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	regime, err := e.regime(ctx, inputs, outputs)
	if err != nil {
		return nil, err
	}
	switch regime {
	case RegimeSatSat:
		return e.sameSideSwap(ctx, e.Sat, inputs, outputs)
	case RegimeCrsatSat:
		return e.Redeem(ctx, inputs, outputs)
	default:
		return e.sameSideSwap(ctx, e.Crsat, inputs, outputs)
	}
}

// sameSideSwap implements the crsat→crsat and sat→sat paths, which
// share identical mechanics: cheap checks, per-keyset amount
// conservation, active-keyset + signature verification, blind
// signing, then an atomic spent-proof insert. Grounded directly on
// bcr-wdc-swap-service's Service::swap.
func (e *Engine) sameSideSwap(ctx context.Context, side Side, inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, cashu.EmptyInputsOrOutputsErr
	}
	for _, p := range inputs {
		if p.Amount == 0 {
			return nil, cashu.ZeroAmountErr
		}
	}
	for _, m := range outputs {
		if m.Amount == 0 {
			return nil, cashu.ZeroAmountErr
		}
	}
	if cashu.CheckDuplicateProofs(inputs) {
		return nil, cashu.NonUniqueProofsErr
	}

	if err := perKeysetAmountsMatch(inputs, outputs); err != nil {
		return nil, err
	}

	keysetCache := make(map[keys.KeysetID]*keys.Keyset)
	loadActive := func(id string) (*keys.Keyset, error) {
		kid := keys.KeysetID(id)
		if ks, ok := keysetCache[kid]; ok {
			return ks, nil
		}
		ks, known, err := side.Keys.Lookup(ctx, kid)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, cashu.UnknownKeysetErr
		}
		keysetCache[kid] = ks
		return ks, nil
	}

	for _, id := range proofKeysetIDs(inputs) {
		ks, err := loadActive(id)
		if err != nil {
			return nil, err
		}
		if !ks.Info.Active {
			return nil, cashu.InactiveKeysetSignatureRequest
		}
	}

	for _, p := range inputs {
		ks, err := loadActive(p.Id)
		if err != nil {
			return nil, err
		}
		if err := side.Keys.VerifyProof(ctx, p, ks); err != nil {
			return nil, err
		}
	}

	signatures := make(cashu.BlindedSignatures, 0, len(outputs))
	for _, m := range outputs {
		sig, err := side.Keys.Sign(ctx, keys.KeysetID(m.Id), m)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, toCashuSignature(sig))
	}

	spent := make([]store.SpentProof, len(inputs))
	for i, p := range inputs {
		spent[i] = store.SpentProof{
			Y:        proofY(p.Secret),
			Amount:   p.Amount,
			KeysetID: keys.KeysetID(p.Id),
			Secret:   p.Secret,
			Witness:  p.Witness,
		}
	}
	if err := side.Proofs.Insert(ctx, spent); err != nil {
		return nil, err
	}

	return signatures, nil
}

// perKeysetAmountsMatch enforces that, per keyset id present among the
// inputs, the input and output amounts for that id are equal (§4.D,
// confirmed by bcr-wdc-swap-service's identical per-id grouping).
func perKeysetAmountsMatch(inputs cashu.Proofs, outputs cashu.BlindedMessages) error {
	inTotals := make(map[string]uint64)
	for _, p := range inputs {
		inTotals[p.Id] += p.Amount
	}
	outTotals := make(map[string]uint64)
	for _, m := range outputs {
		outTotals[m.Id] += m.Amount
	}
	for id, total := range inTotals {
		if outTotals[id] != total {
			return cashu.UnmatchingAmountErr
		}
	}
	return nil
}

func toCashuSignature(sig *keys.BlindSignature) cashu.BlindedSignature {
	bs := cashu.BlindedSignature{
		Amount: sig.Amount,
		C_:     sig.C_Hex,
		Id:     string(sig.KeysetID),
	}
	if sig.DLEQ != nil {
		bs.DLEQ = &cashu.DLEQProof{E: sig.DLEQ.E, S: sig.DLEQ.S}
	}
	return bs
}

// Burn retires crsat proofs at or past their bill's maturity: every
// input's keyset must be inactive (the maturity gate), proofs must
// verify, and they are recorded spent. Grounded on
// bcr-wdc-swap-service's Service::burn.
func (e *Engine) Burn(ctx context.Context, inputs cashu.Proofs) error {
	if len(inputs) == 0 {
		return cashu.EmptyInputsOrOutputsErr
	}
	for _, p := range inputs {
		if p.Amount == 0 {
			return cashu.ZeroAmountErr
		}
	}
	if cashu.CheckDuplicateProofs(inputs) {
		return cashu.NonUniqueProofsErr
	}

	keysetCache := make(map[keys.KeysetID]*keys.Keyset)
	for _, id := range proofKeysetIDs(inputs) {
		kid := keys.KeysetID(id)
		ks, known, err := e.Crsat.Keys.Lookup(ctx, kid)
		if err != nil {
			return err
		}
		if !known {
			return cashu.UnknownKeysetErr
		}
		if ks.Info.Active {
			return cashu.ActiveKeysetRequiredErr
		}
		keysetCache[kid] = ks
	}

	for _, p := range inputs {
		ks := keysetCache[keys.KeysetID(p.Id)]
		if err := e.Crsat.Keys.VerifyProof(ctx, p, ks); err != nil {
			return err
		}
	}

	spent := make([]store.SpentProof, len(inputs))
	for i, p := range inputs {
		spent[i] = store.SpentProof{
			Y:        proofY(p.Secret),
			Amount:   p.Amount,
			KeysetID: keys.KeysetID(p.Id),
			Secret:   p.Secret,
			Witness:  p.Witness,
		}
	}
	return e.Crsat.Proofs.Insert(ctx, spent)
}

// Redeem is the crsat→sat path: crsat inputs (active or inactive) are
// burned, then the sat side signs the outputs. The burn is committed
// before the sat-side sign is attempted so a crash between the two
// steps cannot be replayed into a double-mint of sat (§4.D).
func (e *Engine) Redeem(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, cashu.EmptyInputsOrOutputsErr
	}
	for _, p := range inputs {
		if p.Amount == 0 {
			return nil, cashu.ZeroAmountErr
		}
	}
	for _, m := range outputs {
		if m.Amount == 0 {
			return nil, cashu.ZeroAmountErr
		}
	}
	if inputs.Amount() != outputs.Amount() {
		return nil, cashu.UnmatchingAmountErr
	}
	for _, id := range messageKeysetIDs(outputs) {
		ks, known, err := e.Sat.Keys.Lookup(ctx, keys.KeysetID(id))
		if err != nil {
			return nil, err
		}
		if !known || !ks.Info.Active {
			return nil, cashu.InactiveKeysetSignatureRequest
		}
	}

	if err := e.burnRedeemInputs(ctx, inputs); err != nil {
		return nil, err
	}

	var signatures cashu.BlindedSignatures
	var err error
	for attempt := 0; attempt <= e.RedeemRetries; attempt++ {
		signatures, err = e.signSatOutputs(ctx, outputs)
		if err == nil {
			return signatures, nil
		}
		e.logger.Errorf("redeem sat-side signing attempt %d/%d failed: %v", attempt+1, e.RedeemRetries+1, err)
		if attempt < e.RedeemRetries {
			e.Sleep(e.RedeemBackoff)
		}
	}
	e.logger.Errorf("redeem exhausted retries, burned inputs without issuing sat signatures: %v", err)
	return nil, err
}

// burnRedeemInputs is Burn's verification and spend-recording logic,
// minus its active-keyset-forbidding gate: a redeem's crsat inputs
// may come from an active or an inactive keyset (the mint is paying
// off the bill either way).
func (e *Engine) burnRedeemInputs(ctx context.Context, inputs cashu.Proofs) error {
	if cashu.CheckDuplicateProofs(inputs) {
		return cashu.NonUniqueProofsErr
	}

	keysetCache := make(map[keys.KeysetID]*keys.Keyset)
	for _, p := range inputs {
		kid := keys.KeysetID(p.Id)
		ks, ok := keysetCache[kid]
		if !ok {
			var known bool
			var err error
			ks, known, err = e.Crsat.Keys.Lookup(ctx, kid)
			if err != nil {
				return err
			}
			if !known {
				return cashu.UnknownKeysetErr
			}
			keysetCache[kid] = ks
		}
		if err := e.Crsat.Keys.VerifyProof(ctx, p, ks); err != nil {
			return err
		}
	}

	spent := make([]store.SpentProof, len(inputs))
	for i, p := range inputs {
		spent[i] = store.SpentProof{
			Y:        proofY(p.Secret),
			Amount:   p.Amount,
			KeysetID: keys.KeysetID(p.Id),
			Secret:   p.Secret,
			Witness:  p.Witness,
		}
	}
	return e.Crsat.Proofs.Insert(ctx, spent)
}

func (e *Engine) signSatOutputs(ctx context.Context, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	signatures := make(cashu.BlindedSignatures, 0, len(outputs))
	for _, m := range outputs {
		sig, err := e.Sat.Keys.Sign(ctx, keys.KeysetID(m.Id), m)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, toCashuSignature(sig))
	}
	return signatures, nil
}

// CheckState answers NUT-07 for a set of Ys, merging the crsat and sat
// proof stores; a Y reported spent by both sides at once is a
// protocol-level inconsistency (a proof's secret determines its
// keyset, so it can never legitimately belong to both ledgers).
func (e *Engine) CheckState(ctx context.Context, ys []string) ([]nut07.ProofState, error) {
	crsatSpent, err := e.Crsat.Proofs.ContainsAny(ctx, ys)
	if err != nil {
		return nil, err
	}
	satSpent, err := e.Sat.Proofs.ContainsAny(ctx, ys)
	if err != nil {
		return nil, err
	}

	states := make([]nut07.ProofState, len(ys))
	for i, y := range ys {
		_, inCrsat := crsatSpent[y]
		_, inSat := satSpent[y]
		if inCrsat && inSat {
			return nil, cashu.BuildCashuError("Y "+y+" recorded spent on both crsat and sat sides", cashu.StandardErrCode)
		}
		state := nut07.Unspent
		if inCrsat || inSat {
			state = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: y, State: state}
	}
	return states, nil
}

// Restore answers NUT-09 for a set of candidate outputs, merging the
// crsat and sat signature stores while preserving the caller's input
// ordering.
func (e *Engine) Restore(ctx context.Context, outputs cashu.BlindedMessages) (cashu.BlindedMessages, cashu.BlindedSignatures, error) {
	matchedOutputs := make(cashu.BlindedMessages, 0, len(outputs))
	matchedSignatures := make(cashu.BlindedSignatures, 0, len(outputs))

	for _, m := range outputs {
		sig, ok, err := e.lookupSignature(ctx, m.Id, m.B_)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		matchedOutputs = append(matchedOutputs, m)
		matchedSignatures = append(matchedSignatures, toCashuSignature(sig))
	}
	return matchedOutputs, matchedSignatures, nil
}

func (e *Engine) lookupSignature(ctx context.Context, keysetID, bHex string) (*keys.BlindSignature, bool, error) {
	_, known, err := e.Crsat.Keys.Lookup(ctx, keys.KeysetID(keysetID))
	if err != nil {
		return nil, false, err
	}
	if known {
		return e.Crsat.Keys.LoadSignature(ctx, bHex)
	}
	return e.Sat.Keys.LoadSignature(ctx, bHex)
}
