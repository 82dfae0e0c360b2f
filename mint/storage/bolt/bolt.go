// Package bolt is the secondary storage backend: a single bbolt file
// with one bucket per concern, grounded on the teacher's
// wallet/storage/bolt.go (bucket-per-concern, whole-struct-as-JSON
// values, tx.CreateBucketIfNotExists, db.Update/View, cursor scans for
// listing). Unlike the sqlite backend there are no secondary indexes:
// the few list operations (ListPendings, ListOffers,
// ActiveMaturityKeysets) walk their bucket's cursor and filter, the
// way GetProofs/GetInvoices do in the teacher.
package bolt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
	"github.com/BitcreditProtocol/crsatmint/mint/storage"
	"github.com/BitcreditProtocol/crsatmint/mint/store"
	"github.com/BitcreditProtocol/crsatmint/mint/treasury"
)

const (
	keysetsBucket           = "keysets"
	mintOperationsBucket    = "mint_operations"
	signaturesBucket        = "blind_signatures"
	proofsBucket            = "proofs"
	quotesBucket            = "quotes"
	treasuryCountersBucket  = "treasury_counters"
	premintSecretsBucket    = "premint_secrets"
	premintSignaturesBucket = "premint_signatures"
	treasuryProofsBucket    = "treasury_proofs"
)

var allBuckets = []string{
	keysetsBucket, mintOperationsBucket, signaturesBucket, proofsBucket, quotesBucket,
	treasuryCountersBucket, premintSecretsBucket, premintSignaturesBucket, treasuryProofsBucket,
}

// Open creates (or opens) path/mint.bolt.db, ensures every bucket
// exists, and returns a Backend wiring all six store types against it.
func Open(path string) (*storage.Backend, error) {
	db, err := bolt.Open(filepath.Join(path, "mint.bolt.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening bolt db: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return &storage.Backend{
		Keysets:      &keysetStore{db},
		MintOps:      &mintOpStore{db},
		Signatures:   &signatureStore{db},
		Proofs:       &proofStore{db},
		Quotes:       &quoteStore{db},
		Treasury:     &treasuryStore{db},
		CloseBackend: db.Close,
	}, nil
}

// --- keys.KeysetRepository ---

type keysetStore struct{ db *bolt.DB }

type keyPairRecord struct {
	PrivHex string `json:"priv"`
	PubHex  string `json:"pub"`
}

type keysetRecord struct {
	Info keys.KeysetInfo         `json:"info"`
	Keys map[string]keyPairRecord `json:"keys"`
}

func (s *keysetStore) Store(ctx context.Context, ks keys.Keyset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		if b.Get([]byte(ks.Info.Id)) != nil {
			return cashu.BuildCashuError("keyset already exists", cashu.StandardErrCode)
		}

		rec := keysetRecord{Info: ks.Info, Keys: make(map[string]keyPairRecord, len(ks.Keys))}
		for amount, kp := range ks.Keys {
			rec.Keys[strconv.FormatUint(amount, 10)] = keyPairRecord{
				PrivHex: hex.EncodeToString(kp.PrivateKey.Serialize()),
				PubHex:  hex.EncodeToString(kp.PublicKey.SerializeCompressed()),
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(ks.Info.Id), data)
	})
}

func (s *keysetStore) Load(ctx context.Context, id keys.KeysetID) (*keys.Keyset, error) {
	var result *keys.Keyset
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		data := b.Get([]byte(id))
		if data == nil {
			return cashu.UnknownKeysetErr
		}

		var rec keysetRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		keyMap := make(map[uint64]crypto.KeyPair, len(rec.Keys))
		for amountStr, kpr := range rec.Keys {
			amount, err := strconv.ParseUint(amountStr, 10, 64)
			if err != nil {
				return err
			}
			privBytes, err := hex.DecodeString(kpr.PrivHex)
			if err != nil {
				return err
			}
			pubBytes, err := hex.DecodeString(kpr.PubHex)
			if err != nil {
				return err
			}
			pub, err := secp256k1.ParsePubKey(pubBytes)
			if err != nil {
				return err
			}
			keyMap[amount] = crypto.KeyPair{PrivateKey: secp256k1.PrivKeyFromBytes(privBytes), PublicKey: pub}
		}

		result = &keys.Keyset{Info: rec.Info, Keys: keyMap}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *keysetStore) SetActive(ctx context.Context, id keys.KeysetID, active bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		data := b.Get([]byte(id))
		if data == nil {
			return cashu.UnknownKeysetErr
		}
		var rec keysetRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Info.Active = active
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

func (s *keysetStore) ActiveMaturityKeysets(ctx context.Context) ([]keys.KeysetInfo, error) {
	var infos []keys.KeysetInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec keysetRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Info.Active && rec.Info.IsMaturityBound() {
				infos = append(infos, rec.Info)
			}
		}
		return nil
	})
	return infos, err
}

func (s *keysetStore) ListActive(ctx context.Context) ([]keys.KeysetInfo, error) {
	return s.listFiltered(func(info keys.KeysetInfo) bool { return info.Active })
}

func (s *keysetStore) ListAll(ctx context.Context) ([]keys.KeysetInfo, error) {
	return s.listFiltered(func(info keys.KeysetInfo) bool { return true })
}

func (s *keysetStore) listFiltered(keep func(keys.KeysetInfo) bool) ([]keys.KeysetInfo, error) {
	var infos []keys.KeysetInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec keysetRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if keep(rec.Info) {
				infos = append(infos, rec.Info)
			}
		}
		return nil
	})
	return infos, err
}

func (s *keysetStore) NextRotation(ctx context.Context, finalExpiry int64) (uint32, error) {
	var max uint32
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec keysetRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Info.FinalExpiry == nil || *rec.Info.FinalExpiry != finalExpiry || rec.Info.RotationIndex == nil {
				continue
			}
			if !found || *rec.Info.RotationIndex > max {
				max = *rec.Info.RotationIndex
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

var _ keys.KeysetRepository = (*keysetStore)(nil)

// --- keys.MintOperationRepository ---

type mintOpStore struct{ db *bolt.DB }

type mintOperationRecord struct {
	KeysetID       keys.KeysetID `json:"keyset_id"`
	BoundPublicKey string        `json:"bound_pubkey,omitempty"`
	TargetAmount   uint64        `json:"target_amount"`
	MintedAmount   uint64        `json:"minted_amount"`
}

func (s *mintOpStore) Create(ctx context.Context, op keys.MintOperation) error {
	rec := mintOperationRecord{KeysetID: op.KeysetID, TargetAmount: op.TargetAmount, MintedAmount: op.MintedAmount}
	if op.BoundPublicKey != nil {
		rec.BoundPublicKey = hex.EncodeToString(op.BoundPublicKey.SerializeCompressed())
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(mintOperationsBucket)).Put([]byte(op.UID.String()), data)
	})
}

func (s *mintOpStore) Load(ctx context.Context, uid uuid.UUID) (*keys.MintOperation, error) {
	var op *keys.MintOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(mintOperationsBucket)).Get([]byte(uid.String()))
		if data == nil {
			return cashu.UnknownQuoteIDErr
		}
		var rec mintOperationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		loaded := keys.MintOperation{UID: uid, KeysetID: rec.KeysetID, TargetAmount: rec.TargetAmount, MintedAmount: rec.MintedAmount}
		if rec.BoundPublicKey != "" {
			raw, err := hex.DecodeString(rec.BoundPublicKey)
			if err != nil {
				return err
			}
			pub, err := secp256k1.ParsePubKey(raw)
			if err != nil {
				return err
			}
			loaded.BoundPublicKey = pub
		}
		op = &loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (s *mintOpStore) UpdateMinted(ctx context.Context, uid uuid.UUID, oldMinted, newMinted uint64) (bool, error) {
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mintOperationsBucket))
		key := []byte(uid.String())
		data := b.Get(key)
		if data == nil {
			return cashu.UnknownQuoteIDErr
		}
		var rec mintOperationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.MintedAmount != oldMinted {
			return nil
		}
		rec.MintedAmount = newMinted
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		ok = true
		return b.Put(key, updated)
	})
	return ok, err
}

var _ keys.MintOperationRepository = (*mintOpStore)(nil)

// --- keys.SignatureStore ---

type signatureStore struct{ db *bolt.DB }

func (s *signatureStore) Store(ctx context.Context, blindedPointHex string, sig keys.BlindSignature) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(signaturesBucket))
		key := []byte(blindedPointHex)
		if b.Get(key) != nil {
			return cashu.SignatureAlreadyExistsErr
		}
		data, err := json.Marshal(sig)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *signatureStore) Load(ctx context.Context, blindedPointHex string) (*keys.BlindSignature, bool, error) {
	var sig *keys.BlindSignature
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(signaturesBucket)).Get([]byte(blindedPointHex))
		if data == nil {
			return nil
		}
		var loaded keys.BlindSignature
		if err := json.Unmarshal(data, &loaded); err != nil {
			return err
		}
		sig = &loaded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return sig, sig != nil, nil
}

var _ keys.SignatureStore = (*signatureStore)(nil)

// --- store.ProofStore ---

type proofStore struct{ db *bolt.DB }

func (s *proofStore) Insert(ctx context.Context, proofs []store.SpentProof) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		for _, p := range proofs {
			if b.Get([]byte(p.Y)) != nil {
				return cashu.ProofAlreadyUsedErr
			}
		}
		for _, p := range proofs {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.Y), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *proofStore) Remove(ctx context.Context, ys []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		for _, y := range ys {
			if err := b.Delete([]byte(y)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *proofStore) Contains(ctx context.Context, y string) (*store.SpentProof, bool, error) {
	var p *store.SpentProof
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(proofsBucket)).Get([]byte(y))
		if data == nil {
			return nil
		}
		var loaded store.SpentProof
		if err := json.Unmarshal(data, &loaded); err != nil {
			return err
		}
		p = &loaded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, p != nil, nil
}

func (s *proofStore) ContainsAny(ctx context.Context, ys []string) (map[string]store.SpentProof, error) {
	found := make(map[string]store.SpentProof)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		for _, y := range ys {
			data := b.Get([]byte(y))
			if data == nil {
				continue
			}
			var loaded store.SpentProof
			if err := json.Unmarshal(data, &loaded); err != nil {
				return err
			}
			found[y] = loaded
		}
		return nil
	})
	return found, err
}

var _ store.ProofStore = (*proofStore)(nil)

// --- quote.Repository ---

type quoteStore struct{ db *bolt.DB }

type quoteRecord struct {
	BillID     string        `json:"bill_id"`
	Endorser   string        `json:"endorser"`
	Submitted  int64         `json:"submitted"`
	Status     quote.Status  `json:"status"`
	PublicKey  string        `json:"public_key,omitempty"`
	KeysetID   keys.KeysetID `json:"keyset_id,omitempty"`
	Discounted uint64        `json:"discounted,omitempty"`
	TTL        int64         `json:"ttl,omitempty"`
	Tstamp     int64         `json:"tstamp,omitempty"`
}

func toQuoteRecord(q quote.Quote) (quoteRecord, error) {
	rec := quoteRecord{
		BillID:     q.BillID,
		Endorser:   q.Endorser,
		Submitted:  q.Submitted.Unix(),
		Status:     q.Status,
		KeysetID:   q.KeysetID,
		Discounted: q.Discounted,
	}
	if q.PublicKey != nil {
		rec.PublicKey = hex.EncodeToString(q.PublicKey.SerializeCompressed())
	}
	if !q.TTL.IsZero() {
		rec.TTL = q.TTL.Unix()
	}
	if !q.Tstamp.IsZero() {
		rec.Tstamp = q.Tstamp.Unix()
	}
	return rec, nil
}

func fromQuoteRecord(id uuid.UUID, rec quoteRecord) (quote.Quote, error) {
	q := quote.Quote{
		ID:         id,
		BillID:     rec.BillID,
		Endorser:   rec.Endorser,
		Submitted:  time.Unix(rec.Submitted, 0).UTC(),
		Status:     rec.Status,
		KeysetID:   rec.KeysetID,
		Discounted: rec.Discounted,
	}
	if rec.PublicKey != "" {
		raw, err := hex.DecodeString(rec.PublicKey)
		if err != nil {
			return quote.Quote{}, err
		}
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return quote.Quote{}, err
		}
		q.PublicKey = pub
	}
	if rec.TTL != 0 {
		q.TTL = time.Unix(rec.TTL, 0).UTC()
	}
	if rec.Tstamp != 0 {
		q.Tstamp = time.Unix(rec.Tstamp, 0).UTC()
	}
	return q, nil
}

func (s *quoteStore) Load(ctx context.Context, id uuid.UUID) (*quote.Quote, error) {
	var q *quote.Quote
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(quotesBucket)).Get([]byte(id.String()))
		if data == nil {
			return nil
		}
		var rec quoteRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		loaded, err := fromQuoteRecord(id, rec)
		if err != nil {
			return err
		}
		q = &loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *quoteStore) Store(ctx context.Context, q quote.Quote) error {
	rec, err := toQuoteRecord(q)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(quotesBucket)).Put([]byte(q.ID.String()), data)
	})
}

func (s *quoteStore) Update(ctx context.Context, q quote.Quote) error {
	rec, err := toQuoteRecord(q)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quotesBucket))
		key := []byte(q.ID.String())
		if b.Get(key) == nil {
			return cashu.UnknownQuoteIDErr
		}
		return b.Put(key, data)
	})
}

func (s *quoteStore) SearchByBill(ctx context.Context, billID, endorser string) ([]quote.Quote, error) {
	var out []quote.Quote
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quotesBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec quoteRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.BillID != billID || rec.Endorser != endorser {
				continue
			}
			id, err := uuid.Parse(string(k))
			if err != nil {
				return err
			}
			q, err := fromQuoteRecord(id, rec)
			if err != nil {
				return err
			}
			out = append(out, q)
		}
		return nil
	})
	return out, err
}

func (s *quoteStore) ListPendings(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	return s.listIDsByStatus(ctx, quote.StatusPending, since)
}

func (s *quoteStore) ListOffers(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	return s.listIDsByStatus(ctx, quote.StatusOffered, since)
}

func (s *quoteStore) listIDsByStatus(ctx context.Context, status quote.Status, since *time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quotesBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec quoteRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Status != status {
				continue
			}
			if since != nil && rec.Submitted < since.Unix() {
				continue
			}
			id, err := uuid.Parse(string(k))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

var _ quote.Repository = (*quoteStore)(nil)

// --- treasury.Repository ---

type treasuryStore struct{ db *bolt.DB }

func (s *treasuryStore) NextCounter(ctx context.Context, kid keys.KeysetID) (uint32, error) {
	var counter uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(treasuryCountersBucket)).Get([]byte(kid))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &counter)
	})
	return counter, err
}

func (s *treasuryStore) IncrementCounter(ctx context.Context, kid keys.KeysetID, inc uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(treasuryCountersBucket))
		var counter uint32
		if data := b.Get([]byte(kid)); data != nil {
			if err := json.Unmarshal(data, &counter); err != nil {
				return err
			}
		}
		counter += inc
		updated, err := json.Marshal(counter)
		if err != nil {
			return err
		}
		return b.Put([]byte(kid), updated)
	})
}

type preMintSecretRecord struct {
	Amount uint64               `json:"amount"`
	Secret string               `json:"secret"`
	RHex   string               `json:"r"`
	Blind  cashu.BlindedMessage `json:"blind"`
}

type preMintSecretsRecord struct {
	KeysetID keys.KeysetID         `json:"keyset_id"`
	Secrets  []preMintSecretRecord `json:"secrets"`
}

func (s *treasuryStore) StoreSecrets(ctx context.Context, requestID uuid.UUID, secrets treasury.PreMintSecrets) error {
	rec := preMintSecretsRecord{KeysetID: secrets.KeysetID, Secrets: make([]preMintSecretRecord, len(secrets.Secrets))}
	for i, ps := range secrets.Secrets {
		rec.Secrets[i] = preMintSecretRecord{
			Amount: ps.Amount,
			Secret: ps.Secret,
			RHex:   hex.EncodeToString(ps.R.Serialize()),
			Blind:  ps.Blind,
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(premintSecretsBucket)).Put([]byte(requestID.String()), data)
	})
}

func (s *treasuryStore) LoadSecrets(ctx context.Context, requestID uuid.UUID) (treasury.PreMintSecrets, error) {
	var out treasury.PreMintSecrets
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(premintSecretsBucket)).Get([]byte(requestID.String()))
		if data == nil {
			return cashu.BuildCashuError("unknown premint request id", cashu.StandardErrCode)
		}
		var rec preMintSecretsRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out.KeysetID = rec.KeysetID
		out.Secrets = make([]treasury.PreMintSecret, len(rec.Secrets))
		for i, psr := range rec.Secrets {
			rBytes, err := hex.DecodeString(psr.RHex)
			if err != nil {
				return err
			}
			out.Secrets[i] = treasury.PreMintSecret{
				Amount: psr.Amount,
				Secret: psr.Secret,
				R:      secp256k1.PrivKeyFromBytes(rBytes),
				Blind:  psr.Blind,
			}
		}
		return nil
	})
	return out, err
}

func (s *treasuryStore) DeleteSecrets(ctx context.Context, requestID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(premintSecretsBucket)).Delete([]byte(requestID.String()))
	})
}

func (s *treasuryStore) StorePremintSignatures(ctx context.Context, requestID uuid.UUID, signatures cashu.BlindedSignatures) error {
	data, err := json.Marshal(signatures)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(premintSignaturesBucket)).Put([]byte(requestID.String()), data)
	})
}

func (s *treasuryStore) ListPremintSignatures(ctx context.Context) ([]treasury.PremintSignatures, error) {
	var out []treasury.PremintSignatures
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(premintSignaturesBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id, err := uuid.Parse(string(k))
			if err != nil {
				return err
			}
			var signatures cashu.BlindedSignatures
			if err := json.Unmarshal(v, &signatures); err != nil {
				return err
			}
			out = append(out, treasury.PremintSignatures{RequestID: id, Signatures: signatures})
		}
		return nil
	})
	return out, err
}

func (s *treasuryStore) DeletePremintSignatures(ctx context.Context, requestID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(premintSignaturesBucket)).Delete([]byte(requestID.String()))
	})
}

func (s *treasuryStore) StoreProofs(ctx context.Context, proofs cashu.Proofs) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(treasuryProofsBucket))
		for _, p := range proofs {
			y := store.SecretToY(p.Secret)
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(y), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *treasuryStore) BalanceByKeyset(ctx context.Context) ([]treasury.KeysetBalance, error) {
	balances := make(map[keys.KeysetID]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(treasuryProofsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p cashu.Proof
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			balances[keys.KeysetID(p.Id)] += p.Amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]treasury.KeysetBalance, 0, len(balances))
	for kid, amount := range balances {
		out = append(out, treasury.KeysetBalance{KeysetID: kid, Amount: amount})
	}
	return out, nil
}

var _ treasury.Repository = (*treasuryStore)(nil)
