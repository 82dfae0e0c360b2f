// Package sqlite is the primary storage backend: a single sqlite file
// holding every component's tables, migrated with golang-migrate the
// same way the teacher's mint/storage/sqlite/sqlite.go always has
// (embed.FS migrations copied to a temp dir, db.SetMaxOpenConns(1)
// since sqlite serializes writers anyway). Table layout is new —
// keysets, mint_operations, blind_signatures, proofs, quotes,
// treasury_counters, premint_secrets/signatures, treasury_proofs — but
// the query/prepare/transaction style throughout is the teacher's.
//
// Open returns a *storage.Backend wiring one small store type per
// component repository interface against the same *sql.DB, since
// keys.KeysetRepository and quote.Repository (among others) both
// define a differently-shaped Store/Load and cannot be satisfied by a
// single concrete type.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/BitcreditProtocol/crsatmint/cashu"
	"github.com/BitcreditProtocol/crsatmint/crypto"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
	"github.com/BitcreditProtocol/crsatmint/mint/storage"
	"github.com/BitcreditProtocol/crsatmint/mint/store"
	"github.com/BitcreditProtocol/crsatmint/mint/treasury"
)

//go:embed migrations
var migrations embed.FS

// Open runs pending migrations against path/mint.sqlite.db and
// returns a Backend wiring all six store types against it.
func Open(path string) (*storage.Backend, error) {
	db, err := initSQLite(path)
	if err != nil {
		return nil, err
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

// migrationsDir copies the embedded migration files to a temp
// directory, since migrate.New wants a file:// source.
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "migrations")
	if err != nil {
		return "", err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		src, err := migrations.Open(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return "", err
		}
		defer src.Close()

		dst, err := os.Create(filepath.Join(tempDir, entry.Name()))
		if err != nil {
			return "", err
		}
		defer dst.Close()

		if _, err := io.Copy(dst, src); err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

func initSQLite(path string) (*sql.DB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempMigrationsDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempMigrationsDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempMigrationsDir), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// --- keys.KeysetRepository ---

type keysetStore struct{ db *sql.DB }

func (s *keysetStore) Store(ctx context.Context, ks keys.Keyset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM keysets WHERE id = ?", ks.Info.Id).Scan(&exists); err == nil {
		return cashu.BuildCashuError("keyset already exists", cashu.StandardErrCode)
	} else if err != sql.ErrNoRows {
		return err
	}

	var finalExpiry, rotationIndex, quoteID any
	if ks.Info.FinalExpiry != nil {
		finalExpiry = *ks.Info.FinalExpiry
	}
	if ks.Info.RotationIndex != nil {
		rotationIndex = *ks.Info.RotationIndex
	}
	if ks.Info.QuoteID != nil {
		quoteID = ks.Info.QuoteID.String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO keysets (id, unit, active, valid_from, final_expiry, derivation_path, quote_id, rotation_index, input_fee_ppk, max_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ks.Info.Id, ks.Info.Unit, ks.Info.Active, ks.Info.ValidFrom, finalExpiry,
		ks.Info.DerivationPath, quoteID, rotationIndex, ks.Info.InputFeePpk, ks.Info.MaxOrder,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO keyset_keys (keyset_id, amount, privkey, pubkey) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for amount, kp := range ks.Keys {
		privHex := hex.EncodeToString(kp.PrivateKey.Serialize())
		pubHex := hex.EncodeToString(kp.PublicKey.SerializeCompressed())
		if _, err := stmt.ExecContext(ctx, ks.Info.Id, amount, privHex, pubHex); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *keysetStore) Load(ctx context.Context, id keys.KeysetID) (*keys.Keyset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, unit, active, valid_from, final_expiry, derivation_path, quote_id, rotation_index, input_fee_ppk, max_order FROM keysets WHERE id = ?", id)

	info, err := scanKeysetInfo(row)
	if err == sql.ErrNoRows {
		return nil, cashu.UnknownKeysetErr
	} else if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT amount, privkey, pubkey FROM keyset_keys WHERE keyset_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keyMap := make(map[uint64]crypto.KeyPair)
	for rows.Next() {
		var amount uint64
		var privHex, pubHex string
		if err := rows.Scan(&amount, &privHex, &pubHex); err != nil {
			return nil, err
		}
		privBytes, err := hex.DecodeString(privHex)
		if err != nil {
			return nil, err
		}
		pubBytes, err := hex.DecodeString(pubHex)
		if err != nil {
			return nil, err
		}
		pub, err := secp256k1.ParsePubKey(pubBytes)
		if err != nil {
			return nil, err
		}
		keyMap[amount] = crypto.KeyPair{
			PrivateKey: secp256k1.PrivKeyFromBytes(privBytes),
			PublicKey:  pub,
		}
	}

	return &keys.Keyset{Info: info, Keys: keyMap}, nil
}

func scanKeysetInfo(row rowScanner) (keys.KeysetInfo, error) {
	var info keys.KeysetInfo
	var id string
	var finalExpiry, rotationIndex sql.NullInt64
	var quoteID sql.NullString

	err := row.Scan(&id, &info.Unit, &info.Active, &info.ValidFrom, &finalExpiry,
		&info.DerivationPath, &quoteID, &rotationIndex, &info.InputFeePpk, &info.MaxOrder)
	if err != nil {
		return keys.KeysetInfo{}, err
	}
	info.Id = keys.KeysetID(id)
	if finalExpiry.Valid {
		v := finalExpiry.Int64
		info.FinalExpiry = &v
	}
	if rotationIndex.Valid {
		v := uint32(rotationIndex.Int64)
		info.RotationIndex = &v
	}
	if quoteID.Valid && quoteID.String != "" {
		parsed, err := uuid.Parse(quoteID.String)
		if err != nil {
			return keys.KeysetInfo{}, err
		}
		info.QuoteID = &parsed
	}
	return info, nil
}

func (s *keysetStore) SetActive(ctx context.Context, id keys.KeysetID, active bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return cashu.UnknownKeysetErr
	}
	return nil
}

func (s *keysetStore) ActiveMaturityKeysets(ctx context.Context) ([]keys.KeysetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit, active, valid_from, final_expiry, derivation_path, quote_id, rotation_index, input_fee_ppk, max_order
		FROM keysets WHERE active = 1 AND rotation_index IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []keys.KeysetInfo
	for rows.Next() {
		info, err := scanKeysetInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *keysetStore) ListActive(ctx context.Context) ([]keys.KeysetInfo, error) {
	return s.listWhere(ctx, "WHERE active = 1")
}

func (s *keysetStore) ListAll(ctx context.Context) ([]keys.KeysetInfo, error) {
	return s.listWhere(ctx, "")
}

func (s *keysetStore) listWhere(ctx context.Context, clause string) ([]keys.KeysetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit, active, valid_from, final_expiry, derivation_path, quote_id, rotation_index, input_fee_ppk, max_order
		FROM keysets `+clause)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []keys.KeysetInfo
	for rows.Next() {
		info, err := scanKeysetInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *keysetStore) NextRotation(ctx context.Context, finalExpiry int64) (uint32, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(rotation_index) FROM keysets WHERE final_expiry = ?", finalExpiry).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return uint32(max.Int64) + 1, nil
}

var _ keys.KeysetRepository = (*keysetStore)(nil)

// --- keys.MintOperationRepository ---

type mintOpStore struct{ db *sql.DB }

func (s *mintOpStore) Create(ctx context.Context, op keys.MintOperation) error {
	var boundPubkey any
	if op.BoundPublicKey != nil {
		boundPubkey = hex.EncodeToString(op.BoundPublicKey.SerializeCompressed())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mint_operations (uid, keyset_id, bound_pubkey, target_amount, minted_amount)
		VALUES (?, ?, ?, ?, ?)`,
		op.UID, op.KeysetID, boundPubkey, op.TargetAmount, op.MintedAmount,
	)
	return err
}

func (s *mintOpStore) Load(ctx context.Context, uid uuid.UUID) (*keys.MintOperation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT uid, keyset_id, bound_pubkey, target_amount, minted_amount FROM mint_operations WHERE uid = ?", uid)

	var op keys.MintOperation
	var id string
	var boundPubkey sql.NullString
	if err := row.Scan(&id, &op.KeysetID, &boundPubkey, &op.TargetAmount, &op.MintedAmount); err != nil {
		if err == sql.ErrNoRows {
			return nil, cashu.UnknownQuoteIDErr
		}
		return nil, err
	}
	op.UID = uid

	if boundPubkey.Valid && boundPubkey.String != "" {
		raw, err := hex.DecodeString(boundPubkey.String)
		if err != nil {
			return nil, err
		}
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, err
		}
		op.BoundPublicKey = pub
	}
	return &op, nil
}

func (s *mintOpStore) UpdateMinted(ctx context.Context, uid uuid.UUID, oldMinted, newMinted uint64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE mint_operations SET minted_amount = ? WHERE uid = ? AND minted_amount = ?",
		newMinted, uid, oldMinted,
	)
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

var _ keys.MintOperationRepository = (*mintOpStore)(nil)

// --- keys.SignatureStore ---

type signatureStore struct{ db *sql.DB }

func (s *signatureStore) Store(ctx context.Context, blindedPointHex string, sig keys.BlindSignature) error {
	var e, sVal any
	if sig.DLEQ != nil {
		e, sVal = sig.DLEQ.E, sig.DLEQ.S
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO blind_signatures (b_, amount, keyset_id, c_, dleq_e, dleq_s) VALUES (?, ?, ?, ?, ?, ?)",
		blindedPointHex, sig.Amount, sig.KeysetID, sig.C_Hex, e, sVal,
	)
	if isUniqueConstraintErr(err) {
		return cashu.SignatureAlreadyExistsErr
	}
	return err
}

func (s *signatureStore) Load(ctx context.Context, blindedPointHex string) (*keys.BlindSignature, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT amount, keyset_id, c_, dleq_e, dleq_s FROM blind_signatures WHERE b_ = ?", blindedPointHex)

	var sig keys.BlindSignature
	var keysetID string
	var e, sVal sql.NullString
	err := row.Scan(&sig.Amount, &keysetID, &sig.C_Hex, &e, &sVal)
	if err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	sig.KeysetID = keys.KeysetID(keysetID)
	if e.Valid && sVal.Valid {
		sig.DLEQ = &keys.DLEQProof{E: e.String, S: sVal.String}
	}
	return &sig, true, nil
}

var _ keys.SignatureStore = (*signatureStore)(nil)

// --- store.ProofStore ---

type proofStore struct{ db *sql.DB }

func (s *proofStore) Insert(ctx context.Context, proofs []store.SpentProof) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ys := make([]string, len(proofs))
	for i, p := range proofs {
		ys[i] = p.Y
	}
	existing, err := containsAny(ctx, tx, ys)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return cashu.ProofAlreadyUsedErr
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO proofs (y, amount, keyset_id, secret, witness) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range proofs {
		if _, err := stmt.ExecContext(ctx, p.Y, p.Amount, p.KeysetID, p.Secret, p.Witness); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *proofStore) Remove(ctx context.Context, ys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM proofs WHERE y = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, y := range ys {
		if _, err := stmt.ExecContext(ctx, y); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *proofStore) Contains(ctx context.Context, y string) (*store.SpentProof, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT y, amount, keyset_id, secret, witness FROM proofs WHERE y = ?", y)
	p, err := scanSpentProof(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *proofStore) ContainsAny(ctx context.Context, ys []string) (map[string]store.SpentProof, error) {
	if len(ys) == 0 {
		return map[string]store.SpentProof{}, nil
	}
	return containsAny(ctx, s.db, ys)
}

func containsAny(ctx context.Context, q queryer, ys []string) (map[string]store.SpentProof, error) {
	if len(ys) == 0 {
		return map[string]store.SpentProof{}, nil
	}
	query := `SELECT y, amount, keyset_id, secret, witness FROM proofs WHERE y IN (?` + strings.Repeat(",?", len(ys)-1) + `)`
	args := make([]any, len(ys))
	for i, y := range ys {
		args[i] = y
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]store.SpentProof)
	for rows.Next() {
		p, err := scanSpentProof(rows)
		if err != nil {
			return nil, err
		}
		found[p.Y] = p
	}
	return found, nil
}

func scanSpentProof(row rowScanner) (store.SpentProof, error) {
	var p store.SpentProof
	var keysetID string
	var witness sql.NullString
	if err := row.Scan(&p.Y, &p.Amount, &keysetID, &p.Secret, &witness); err != nil {
		return store.SpentProof{}, err
	}
	p.KeysetID = keys.KeysetID(keysetID)
	if witness.Valid {
		p.Witness = witness.String
	}
	return p, nil
}

var _ store.ProofStore = (*proofStore)(nil)

// --- quote.Repository ---

type quoteStore struct{ db *sql.DB }

func (s *quoteStore) Load(ctx context.Context, id uuid.UUID) (*quote.Quote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bill_id, endorser, submitted, status, public_key, keyset_id, discounted, ttl, tstamp
		FROM quotes WHERE id = ?`, id)
	q, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *quoteStore) Store(ctx context.Context, q quote.Quote) error {
	return s.upsertQuote(ctx, q, true)
}

func (s *quoteStore) Update(ctx context.Context, q quote.Quote) error {
	return s.upsertQuote(ctx, q, false)
}

func (s *quoteStore) upsertQuote(ctx context.Context, q quote.Quote, insert bool) error {
	var pubkey any
	if q.PublicKey != nil {
		pubkey = hex.EncodeToString(q.PublicKey.SerializeCompressed())
	}
	var keysetID any
	if q.KeysetID != "" {
		keysetID = q.KeysetID
	}
	var discounted any
	if q.Discounted != 0 {
		discounted = q.Discounted
	}
	var ttl any
	if !q.TTL.IsZero() {
		ttl = q.TTL.Unix()
	}
	var tstamp any
	if !q.Tstamp.IsZero() {
		tstamp = q.Tstamp.Unix()
	}

	if insert {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO quotes (id, bill_id, endorser, submitted, status, public_key, keyset_id, discounted, ttl, tstamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.BillID, q.Endorser, q.Submitted.Unix(), int(q.Status), pubkey, keysetID, discounted, ttl, tstamp,
		)
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE quotes SET status = ?, public_key = ?, keyset_id = ?, discounted = ?, ttl = ?, tstamp = ?
		WHERE id = ?`,
		int(q.Status), pubkey, keysetID, discounted, ttl, tstamp, q.ID,
	)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return cashu.UnknownQuoteIDErr
	}
	return nil
}

func scanQuote(row rowScanner) (quote.Quote, error) {
	var q quote.Quote
	var id string
	var submitted, status int64
	var pubkey, keysetID sql.NullString
	var discounted sql.NullInt64
	var ttl, tstamp sql.NullInt64

	err := row.Scan(&id, &q.BillID, &q.Endorser, &submitted, &status, &pubkey, &keysetID, &discounted, &ttl, &tstamp)
	if err != nil {
		return quote.Quote{}, err
	}

	q.ID, err = uuid.Parse(id)
	if err != nil {
		return quote.Quote{}, err
	}
	q.Submitted = time.Unix(submitted, 0).UTC()
	q.Status = quote.Status(status)

	if pubkey.Valid && pubkey.String != "" {
		raw, err := hex.DecodeString(pubkey.String)
		if err != nil {
			return quote.Quote{}, err
		}
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return quote.Quote{}, err
		}
		q.PublicKey = pub
	}
	if keysetID.Valid {
		q.KeysetID = keys.KeysetID(keysetID.String)
	}
	if discounted.Valid {
		q.Discounted = uint64(discounted.Int64)
	}
	if ttl.Valid {
		q.TTL = time.Unix(ttl.Int64, 0).UTC()
	}
	if tstamp.Valid {
		q.Tstamp = time.Unix(tstamp.Int64, 0).UTC()
	}
	return q, nil
}

func (s *quoteStore) SearchByBill(ctx context.Context, billID, endorser string) ([]quote.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_id, endorser, submitted, status, public_key, keyset_id, discounted, ttl, tstamp
		FROM quotes WHERE bill_id = ? AND endorser = ?`, billID, endorser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quote.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *quoteStore) ListPendings(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	return s.listQuoteIDsByStatus(ctx, quote.StatusPending, since)
}

func (s *quoteStore) ListOffers(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	return s.listQuoteIDsByStatus(ctx, quote.StatusOffered, since)
}

func (s *quoteStore) listQuoteIDsByStatus(ctx context.Context, status quote.Status, since *time.Time) ([]uuid.UUID, error) {
	query := "SELECT id FROM quotes WHERE status = ?"
	args := []any{int(status)}
	if since != nil {
		query += " AND submitted >= ?"
		args = append(args, since.Unix())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ quote.Repository = (*quoteStore)(nil)

// --- treasury.Repository ---

type treasuryStore struct{ db *sql.DB }

func (s *treasuryStore) NextCounter(ctx context.Context, kid keys.KeysetID) (uint32, error) {
	var counter sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT counter FROM treasury_counters WHERE keyset_id = ?", kid).Scan(&counter)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return uint32(counter.Int64), nil
}

func (s *treasuryStore) IncrementCounter(ctx context.Context, kid keys.KeysetID, inc uint32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO treasury_counters (keyset_id, counter) VALUES (?, ?)
		ON CONFLICT(keyset_id) DO UPDATE SET counter = counter + excluded.counter`,
		kid, inc,
	)
	return err
}

func (s *treasuryStore) StoreSecrets(ctx context.Context, requestID uuid.UUID, secrets treasury.PreMintSecrets) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO premint_secrets (request_id, idx, keyset_id, amount, secret, r, blind_b_)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, secret := range secrets.Secrets {
		rHex := hex.EncodeToString(secret.R.Serialize())
		if _, err := stmt.ExecContext(ctx, requestID, i, secrets.KeysetID, secret.Amount, secret.Secret, rHex, secret.Blind.B_); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *treasuryStore) LoadSecrets(ctx context.Context, requestID uuid.UUID) (treasury.PreMintSecrets, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT keyset_id, amount, secret, r, blind_b_ FROM premint_secrets WHERE request_id = ? ORDER BY idx`, requestID)
	if err != nil {
		return treasury.PreMintSecrets{}, err
	}
	defer rows.Close()

	var out treasury.PreMintSecrets
	for rows.Next() {
		var keysetID, secret, rHex, blindHex string
		var amount uint64
		if err := rows.Scan(&keysetID, &amount, &secret, &rHex, &blindHex); err != nil {
			return treasury.PreMintSecrets{}, err
		}
		out.KeysetID = keys.KeysetID(keysetID)

		rBytes, err := hex.DecodeString(rHex)
		if err != nil {
			return treasury.PreMintSecrets{}, err
		}
		blindPub, err := parseHexPubKey(blindHex)
		if err != nil {
			return treasury.PreMintSecrets{}, err
		}
		out.Secrets = append(out.Secrets, treasury.PreMintSecret{
			Amount: amount,
			Secret: secret,
			R:      secp256k1.PrivKeyFromBytes(rBytes),
			Blind:  cashu.NewBlindedMessage(keysetID, amount, blindPub),
		})
	}
	if len(out.Secrets) == 0 {
		return treasury.PreMintSecrets{}, cashu.BuildCashuError("unknown premint request id", cashu.StandardErrCode)
	}
	return out, nil
}

func parseHexPubKey(h string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, err
	}
	return secp256k1.ParsePubKey(raw)
}

func (s *treasuryStore) DeleteSecrets(ctx context.Context, requestID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM premint_secrets WHERE request_id = ?", requestID)
	return err
}

func (s *treasuryStore) StorePremintSignatures(ctx context.Context, requestID uuid.UUID, signatures cashu.BlindedSignatures) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO premint_signatures (request_id, idx, amount, keyset_id, c_, dleq_e, dleq_s)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sig := range signatures {
		var e, sVal any
		if sig.DLEQ != nil {
			e, sVal = sig.DLEQ.E, sig.DLEQ.S
		}
		if _, err := stmt.ExecContext(ctx, requestID, i, sig.Amount, sig.Id, sig.C_, e, sVal); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *treasuryStore) ListPremintSignatures(ctx context.Context) ([]treasury.PremintSignatures, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT request_id FROM premint_signatures")
	if err != nil {
		return nil, err
	}
	var requestIDs []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			rows.Close()
			return nil, err
		}
		requestIDs = append(requestIDs, id)
	}
	rows.Close()

	out := make([]treasury.PremintSignatures, 0, len(requestIDs))
	for _, requestID := range requestIDs {
		sigRows, err := s.db.QueryContext(ctx, `
			SELECT amount, keyset_id, c_, dleq_e, dleq_s FROM premint_signatures WHERE request_id = ? ORDER BY idx`, requestID)
		if err != nil {
			return nil, err
		}
		var signatures cashu.BlindedSignatures
		for sigRows.Next() {
			var sig cashu.BlindedSignature
			var e, sVal sql.NullString
			if err := sigRows.Scan(&sig.Amount, &sig.Id, &sig.C_, &e, &sVal); err != nil {
				sigRows.Close()
				return nil, err
			}
			if e.Valid && sVal.Valid {
				sig.DLEQ = &cashu.DLEQProof{E: e.String, S: sVal.String}
			}
			signatures = append(signatures, sig)
		}
		sigRows.Close()
		out = append(out, treasury.PremintSignatures{RequestID: requestID, Signatures: signatures})
	}
	return out, nil
}

func (s *treasuryStore) DeletePremintSignatures(ctx context.Context, requestID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM premint_signatures WHERE request_id = ?", requestID)
	return err
}

func (s *treasuryStore) StoreProofs(ctx context.Context, proofs cashu.Proofs) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO treasury_proofs (y, amount, keyset_id, secret, c) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range proofs {
		y := store.SecretToY(p.Secret)
		if _, err := stmt.ExecContext(ctx, y, p.Amount, p.Id, p.Secret, p.C); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *treasuryStore) BalanceByKeyset(ctx context.Context) ([]treasury.KeysetBalance, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT keyset_id, SUM(amount) FROM treasury_proofs GROUP BY keyset_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []treasury.KeysetBalance
	for rows.Next() {
		var keysetID string
		var amount uint64
		if err := rows.Scan(&keysetID, &amount); err != nil {
			return nil, err
		}
		out = append(out, treasury.KeysetBalance{KeysetID: keys.KeysetID(keysetID), Amount: amount})
	}
	return out, nil
}

var _ treasury.Repository = (*treasuryStore)(nil)
