package treasury

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut13"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
)

// Service implements component E (§4.E): a deterministic blinded-
// message inventory keyed by sat-side keyset id, plus the redemption
// bookkeeping that turns signed responses into proofs or forfeits
// them when the keyset they were drawn against has gone inactive.
// Grounded on bcr-wdc-treasury-service's credit::Service.
type Service struct {
	Master *hdkeychain.ExtendedKey
	Repo   Repository
	Keys   KeyLookup

	logger mlog.Logger
}

func NewService(master *hdkeychain.ExtendedKey, repo Repository, keyLookup KeyLookup) *Service {
	return &Service{Master: master, Repo: repo, Keys: keyLookup}
}

// WithLogger attaches a logger; a Service with no logger attached
// simply does not log (mlog.Logger is a no-op zero value).
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = mlog.Logger{L: l}
	return s
}

// GetBlinds splits total into powers of two and derives one
// (secret, r, B_) tuple per part from the treasury's xpriv, the
// keyset's own counter, and kid — deterministic and replay-safe: the
// counter is advanced before the secrets are stored, so a crash
// between the two only ever skips ahead, never reuses, an index
// (§4.E, §8 invariant 6).
func (s *Service) GetBlinds(ctx context.Context, kid keys.KeysetID, total uint64) (uuid.UUID, cashu.BlindedMessages, error) {
	path, err := nut13.DeriveKeysetPath(s.Master, string(kid))
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("deriving keyset path for %s: %w", kid, err)
	}

	counter, err := s.Repo.NextCounter(ctx, kid)
	if err != nil {
		return uuid.Nil, nil, err
	}

	amounts := cashu.AmountSplit(total)
	secrets := make([]PreMintSecret, len(amounts))
	blinds := make(cashu.BlindedMessages, len(amounts))
	for i, amount := range amounts {
		index := counter + uint32(i)

		secretHex, err := nut13.DeriveSecret(path, index)
		if err != nil {
			return uuid.Nil, nil, err
		}
		r, err := nut13.DeriveBlindingFactor(path, index)
		if err != nil {
			return uuid.Nil, nil, err
		}
		B_, r, err := crypto.BlindMessage([]byte(secretHex), r.Serialize())
		if err != nil {
			return uuid.Nil, nil, err
		}

		blind := cashu.NewBlindedMessage(string(kid), amount, B_)
		secrets[i] = PreMintSecret{Amount: amount, Secret: secretHex, R: r, Blind: blind}
		blinds[i] = blind
	}

	requestID := uuid.New()
	if err := s.Repo.IncrementCounter(ctx, kid, uint32(len(amounts))); err != nil {
		return uuid.Nil, nil, err
	}
	if err := s.Repo.StoreSecrets(ctx, requestID, PreMintSecrets{KeysetID: kid, Secrets: secrets}); err != nil {
		return uuid.Nil, nil, err
	}
	return requestID, blinds, nil
}

// StoreSignatures ties the Key Factory's response for requestID back
// to the secrets GetBlinds derived; expiration is carried for the
// caller's own bookkeeping (the sat side's signatures have no TTL of
// their own once issued).
func (s *Service) StoreSignatures(ctx context.Context, requestID uuid.UUID, signatures cashu.BlindedSignatures, expiration time.Time) error {
	return s.Repo.StorePremintSignatures(ctx, requestID, signatures)
}

// Balance sweeps every outstanding premint-signature batch — unblinding
// it into proofs if its keyset is still active, forfeiting it
// (dropping both the signatures and the secrets) if the keyset has
// gone inactive since — then sums the proof amounts whose keyset is
// still active. Grounded on credit::Service::balance.
func (s *Service) Balance(ctx context.Context) (uint64, error) {
	premintSignatures, err := s.Repo.ListPremintSignatures(ctx)
	if err != nil {
		return 0, err
	}

	for _, premint := range premintSignatures {
		if len(premint.Signatures) == 0 {
			continue
		}
		kid := keys.KeysetID(premint.Signatures[0].Id)

		keyset, known, err := s.Keys.Lookup(ctx, kid)
		if err != nil {
			continue
		}
		if !known || !keyset.Info.Active {
			if err := s.Repo.DeletePremintSignatures(ctx, premint.RequestID); err != nil {
				return 0, err
			}
			if err := s.Repo.DeleteSecrets(ctx, premint.RequestID); err != nil {
				return 0, err
			}
			s.logger.Infof("forfeited premint request %s: keyset %s no longer active", premint.RequestID, kid)
			continue
		}

		secrets, err := s.Repo.LoadSecrets(ctx, premint.RequestID)
		if err != nil {
			return 0, err
		}
		proofs, err := unblindSignatures(premint.Signatures, secrets, keyset)
		if err != nil {
			return 0, err
		}
		if err := s.Repo.StoreProofs(ctx, proofs); err != nil {
			return 0, err
		}
		if err := s.Repo.DeletePremintSignatures(ctx, premint.RequestID); err != nil {
			return 0, err
		}
		if err := s.Repo.DeleteSecrets(ctx, premint.RequestID); err != nil {
			return 0, err
		}
	}

	var total uint64
	balances, err := s.Repo.BalanceByKeyset(ctx)
	if err != nil {
		return 0, err
	}
	for _, balance := range balances {
		keyset, known, err := s.Keys.Lookup(ctx, balance.KeysetID)
		if err != nil || !known || !keyset.Info.Active {
			continue
		}
		total += balance.Amount
	}
	return total, nil
}

// unblindSignatures pairs each signature with the secret/r that
// produced its blind, in order, and recovers the unblinded proof.
func unblindSignatures(signatures cashu.BlindedSignatures, secrets PreMintSecrets, keyset *keys.Keyset) (cashu.Proofs, error) {
	if len(signatures) != len(secrets.Secrets) {
		return nil, cashu.BuildCashuError(
			fmt.Sprintf("#signatures %d != #secrets %d", len(signatures), len(secrets.Secrets)),
			cashu.UnblindSignaturesErrCode,
		)
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, sig := range signatures {
		secret := secrets.Secrets[i]
		if keys.KeysetID(sig.Id) != secrets.KeysetID {
			return nil, cashu.BuildCashuError(
				fmt.Sprintf("signature.keyset_id %s != secrets.keyset_id %s", sig.Id, secrets.KeysetID),
				cashu.UnblindSignaturesErrCode,
			)
		}
		keyPair, ok := keyset.Keys[sig.Amount]
		if !ok {
			return nil, cashu.BuildCashuError("signature.amount not in keyset", cashu.UnblindSignaturesErrCode)
		}

		cBytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, cashu.BuildCashuError("unblind_signature: malformed C_", cashu.UnblindSignaturesErrCode)
		}
		C_, err := secp256k1.ParsePubKey(cBytes)
		if err != nil {
			return nil, cashu.BuildCashuError("unblind_signature: malformed C_", cashu.UnblindSignaturesErrCode)
		}

		C := crypto.UnblindSignature(C_, secret.R, keyPair.PublicKey)
		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     string(secrets.KeysetID),
			Secret: secret.Secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs, nil
}
