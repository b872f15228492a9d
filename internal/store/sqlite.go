package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode and foreign keys (pricing rows cascade with their listing).
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id           TEXT PRIMARY KEY,
	seller_id    TEXT NOT NULL,
	make         TEXT NOT NULL,
	model        TEXT NOT NULL,
	variant_name TEXT NOT NULL,
	engine_spec  TEXT NOT NULL DEFAULT '',
	transmission TEXT NOT NULL DEFAULT 'unknown',
	drivetrain   TEXT NOT NULL DEFAULT 'unknown',
	powertrain   TEXT NOT NULL,
	horsepower   INTEGER NOT NULL DEFAULT 0,
	battery_kwh  REAL NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id);

CREATE TABLE IF NOT EXISTS pricing (
	id            TEXT PRIMARY KEY,
	listing_id    TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	monthly_price INTEGER NOT NULL,
	first_payment INTEGER NOT NULL,
	period_months INTEGER NOT NULL,
	annual_km     INTEGER NOT NULL,
	UNIQUE (listing_id, period_months, annual_km)
);

CREATE INDEX IF NOT EXISTS idx_pricing_listing ON pricing(listing_id);

CREATE TABLE IF NOT EXISTS extraction_sessions (
	id              TEXT PRIMARY KEY,
	seller_id       TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'draft',
	total_extracted INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_seller ON extraction_sessions(seller_id);

CREATE TABLE IF NOT EXISTS change_proposals (
	id                  TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL REFERENCES extraction_sessions(id),
	change_type         TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	existing_listing_id TEXT,
	extracted           TEXT,
	field_diff          TEXT,
	confidence          REAL NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_proposals_session ON change_proposals(session_id);
CREATE INDEX IF NOT EXISTS idx_proposals_session_status ON change_proposals(session_id, status);

CREATE TABLE IF NOT EXISTS apply_log (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	change_id  TEXT NOT NULL,
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_apply_log_session ON apply_log(session_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListingsBySeller(ctx context.Context, sellerID string) ([]model.StoredListing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = ? ORDER BY make, model, variant_name`,
		sellerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: listings for seller %s", sellerID)
	}
	defer rows.Close()

	var listings []model.StoredListing
	index := map[string]int{}
	for rows.Next() {
		var l model.StoredListing
		if err := scanListing(rows, &l); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		index[l.ID] = len(listings)
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: listings iterate")
	}

	priceRows, err := s.db.QueryContext(ctx,
		`SELECT p.listing_id, p.monthly_price, p.first_payment, p.period_months, p.annual_km
		 FROM pricing p JOIN listings l ON l.id = p.listing_id
		 WHERE l.seller_id = ?
		 ORDER BY p.listing_id, p.period_months, p.annual_km`,
		sellerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: pricing for seller %s", sellerID)
	}
	defer priceRows.Close()

	for priceRows.Next() {
		var listingID string
		var p model.PricingOption
		if err := priceRows.Scan(&listingID, &p.MonthlyPrice, &p.FirstPayment, &p.PeriodMonths, &p.AnnualKm); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pricing")
		}
		if i, ok := index[listingID]; ok {
			listings[i].PricingRecords = append(listings[i].PricingRecords, p)
		}
	}
	return listings, eris.Wrap(priceRows.Err(), "sqlite: pricing iterate")
}

func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*model.StoredListing, error) {
	var l model.StoredListing
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	if err := scanListing(row, &l); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get listing %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT monthly_price, first_payment, period_months, annual_km
		 FROM pricing WHERE listing_id = ? ORDER BY period_months, annual_km`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: pricing for listing %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PricingOption
		if err := rows.Scan(&p.MonthlyPrice, &p.FirstPayment, &p.PeriodMonths, &p.AnnualKm); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pricing")
		}
		l.PricingRecords = append(l.PricingRecords, p)
	}
	return &l, eris.Wrap(rows.Err(), "sqlite: pricing iterate")
}

func (s *SQLiteStore) CreateListing(ctx context.Context, sellerID string, v model.ExtractedVariant) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin create listing")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO listings (id, seller_id, make, model, variant_name, engine_spec, transmission, drivetrain, powertrain, horsepower, battery_kwh, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sellerID, v.Make, v.Model, v.VariantName, v.EngineSpec,
		string(v.Transmission), string(v.Drivetrain), string(v.Powertrain),
		v.Horsepower, v.BatteryKwh, now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert listing")
	}

	for _, p := range v.PricingOptions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pricing (id, listing_id, monthly_price, first_payment, period_months, annual_km)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), id, p.MonthlyPrice, p.FirstPayment, p.PeriodMonths, p.AnnualKm,
		); err != nil {
			return "", eris.Wrap(err, "sqlite: insert pricing")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit create listing")
	}
	return id, nil
}

func (s *SQLiteStore) UpdateListing(ctx context.Context, id string, v model.ExtractedVariant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update listing")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE listings SET make = ?, model = ?, variant_name = ?, engine_spec = ?, transmission = ?, drivetrain = ?, powertrain = ?, horsepower = ?, battery_kwh = ?, updated_at = ?
		 WHERE id = ?`,
		v.Make, v.Model, v.VariantName, v.EngineSpec,
		string(v.Transmission), string(v.Drivetrain), string(v.Powertrain),
		v.Horsepower, v.BatteryKwh, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update listing %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "listing %s", id)
	}

	// Replace pricing by diff: upsert incoming tiers, prune the rest.
	for _, p := range v.PricingOptions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pricing (id, listing_id, monthly_price, first_payment, period_months, annual_km)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (listing_id, period_months, annual_km)
			 DO UPDATE SET monthly_price = excluded.monthly_price, first_payment = excluded.first_payment`,
			uuid.New().String(), id, p.MonthlyPrice, p.FirstPayment, p.PeriodMonths, p.AnnualKm,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert pricing")
		}
	}
	if len(v.PricingOptions) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pricing WHERE listing_id = ?`, id); err != nil {
			return eris.Wrap(err, "sqlite: clear pricing")
		}
	} else {
		del := `DELETE FROM pricing WHERE listing_id = ? AND NOT (`
		args := []any{id}
		clauses := make([]string, 0, len(v.PricingOptions))
		for _, p := range v.PricingOptions {
			clauses = append(clauses, `(period_months = ? AND annual_km = ?)`)
			args = append(args, p.PeriodMonths, p.AnnualKm)
		}
		del += strings.Join(clauses, " OR ") + ")"
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return eris.Wrap(err, "sqlite: prune pricing")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit update listing")
}

func (s *SQLiteStore) DeleteListing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete listing %s", id)
	}
	return checkRowsAffected(res, "listing", id)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.ExtractionSession, proposals []model.ChangeProposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create session")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO extraction_sessions (id, seller_id, status, total_extracted, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.SellerID, string(session.Status), session.TotalExtracted, session.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert session")
	}

	for _, p := range proposals {
		extracted, diff, err := marshalProposalPayload(p)
		if err != nil {
			return err
		}
		var existing any
		if p.ExistingListingID != "" {
			existing = p.ExistingListingID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_proposals (id, session_id, change_type, status, existing_listing_id, extracted, field_diff, confidence, error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SessionID, string(p.Type), string(p.Status), existing,
			nullableText(extracted), nullableText(diff), p.Confidence, p.Error, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert proposal")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.ExtractionSession, error) {
	var sess model.ExtractionSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, status, total_extracted, created_at FROM extraction_sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.SellerID, &sess.Status, &sess.TotalExtracted, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ExtractionSession, error) {
	query := `SELECT id, seller_id, status, total_extracted, created_at FROM extraction_sessions WHERE 1=1`
	args := []any{}

	if filter.SellerID != "" {
		query += ` AND seller_id = ?`
		args = append(args, filter.SellerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.ExtractionSession
	for rows.Next() {
		var sess model.ExtractionSession
		if err := rows.Scan(&sess.ID, &sess.SellerID, &sess.Status, &sess.TotalExtracted, &sess.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_sessions SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session status %s", id)
	}
	return checkRowsAffected(res, "session", id)
}

func (s *SQLiteStore) ProposalsBySession(ctx context.Context, sessionID string) ([]model.ChangeProposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM change_proposals WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: proposals for session %s", sessionID)
	}
	return collectSQLProposals(rows)
}

func (s *SQLiteStore) ProposalsByStatus(ctx context.Context, sessionID string, status model.ProposalStatus) ([]model.ChangeProposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM change_proposals WHERE session_id = ? AND status = ? ORDER BY created_at, id`,
		sessionID, string(status),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: proposals for session %s status %s", sessionID, status)
	}
	return collectSQLProposals(rows)
}

func (s *SQLiteStore) UpdateProposalStatus(ctx context.Context, id string, from, to model.ProposalStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE change_proposals SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), errMsg, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update proposal %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM change_proposals WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "proposal %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: probe proposal %s", id)
	}
	return eris.Wrapf(model.ErrInvalidTransition, "proposal %s: %s -> %s (currently %s)", id, from, to, current)
}

func (s *SQLiteStore) RecordApply(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apply_log (id, session_id, change_id, action, actor, outcome, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.ChangeID, string(entry.Action),
		entry.Actor, entry.Outcome, entry.Reason, entry.At,
	)
	return eris.Wrap(err, "sqlite: record apply")
}

func (s *SQLiteStore) AuditBySession(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, change_id, action, actor, outcome, reason, at
		 FROM apply_log WHERE session_id = ? ORDER BY at, id`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: audit for session %s", sessionID)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ChangeID, &e.Action, &e.Actor, &e.Outcome, &e.Reason, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: audit iterate")
}

func collectSQLProposals(rows *sql.Rows) ([]model.ChangeProposal, error) {
	defer rows.Close()

	var proposals []model.ChangeProposal
	for rows.Next() {
		var p model.ChangeProposal
		var existing, extractedJSON, diffJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Type, &p.Status, &existing,
			&extractedJSON, &diffJSON, &p.Confidence, &p.Error, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan proposal")
		}
		p.ExistingListingID = existing.String
		if extractedJSON.Valid && extractedJSON.String != "" {
			p.Extracted = &model.ExtractedVariant{}
			if err := json.Unmarshal([]byte(extractedJSON.String), p.Extracted); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal extracted")
			}
		}
		if diffJSON.Valid && diffJSON.String != "" {
			if err := json.Unmarshal([]byte(diffJSON.String), &p.FieldDiff); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal field diff")
			}
		}
		proposals = append(proposals, p)
	}
	return proposals, eris.Wrap(rows.Err(), "sqlite: proposals iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
