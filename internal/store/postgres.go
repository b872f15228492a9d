package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leasingborsen/lease-ingest/internal/db"
	"github.com/leasingborsen/lease-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of compare and apply.
var preparedStatements = map[string]string{
	"get_listing":     `SELECT id, seller_id, make, model, variant_name, engine_spec, transmission, drivetrain, powertrain, horsepower, battery_kwh, created_at, updated_at FROM listings WHERE id = $1`,
	"delete_listing":  `DELETE FROM listings WHERE id = $1`,
	"get_session":     `SELECT id, seller_id, status, total_extracted, created_at FROM extraction_sessions WHERE id = $1`,
	"update_proposal": `UPDATE change_proposals SET status = $1, error = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	battery_kwh  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id);

CREATE TABLE IF NOT EXISTS pricing (
	id            TEXT PRIMARY KEY,
	listing_id    TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	monthly_price BIGINT NOT NULL,
	first_payment BIGINT NOT NULL,
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
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_seller ON extraction_sessions(seller_id);

CREATE TABLE IF NOT EXISTS change_proposals (
	id                  TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL REFERENCES extraction_sessions(id),
	change_type         TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	existing_listing_id TEXT,
	extracted           JSONB,
	field_diff          JSONB,
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
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
	at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_apply_log_session ON apply_log(session_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const listingColumns = `id, seller_id, make, model, variant_name, engine_spec, transmission, drivetrain, powertrain, horsepower, battery_kwh, created_at, updated_at`

func (s *PostgresStore) ListingsBySeller(ctx context.Context, sellerID string) ([]model.StoredListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY make, model, variant_name`,
		sellerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: listings for seller %s", sellerID)
	}
	defer rows.Close()

	var listings []model.StoredListing
	index := map[string]int{}
	for rows.Next() {
		var l model.StoredListing
		if err := scanListing(rows, &l); err != nil {
			return nil, err
		}
		index[l.ID] = len(listings)
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: listings iterate")
	}

	priceRows, err := s.pool.Query(ctx,
		`SELECT p.listing_id, p.monthly_price, p.first_payment, p.period_months, p.annual_km
		 FROM pricing p JOIN listings l ON l.id = p.listing_id
		 WHERE l.seller_id = $1
		 ORDER BY p.listing_id, p.period_months, p.annual_km`,
		sellerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: pricing for seller %s", sellerID)
	}
	defer priceRows.Close()

	for priceRows.Next() {
		var listingID string
		var p model.PricingOption
		if err := priceRows.Scan(&listingID, &p.MonthlyPrice, &p.FirstPayment, &p.PeriodMonths, &p.AnnualKm); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pricing")
		}
		if i, ok := index[listingID]; ok {
			listings[i].PricingRecords = append(listings[i].PricingRecords, p)
		}
	}
	return listings, eris.Wrap(priceRows.Err(), "postgres: pricing iterate")
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.StoredListing, error) {
	var l model.StoredListing
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if err := scanListing(row, &l); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get listing %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT monthly_price, first_payment, period_months, annual_km
		 FROM pricing WHERE listing_id = $1 ORDER BY period_months, annual_km`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: pricing for listing %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PricingOption
		if err := rows.Scan(&p.MonthlyPrice, &p.FirstPayment, &p.PeriodMonths, &p.AnnualKm); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pricing")
		}
		l.PricingRecords = append(l.PricingRecords, p)
	}
	return &l, eris.Wrap(rows.Err(), "postgres: pricing iterate")
}

func (s *PostgresStore) CreateListing(ctx context.Context, sellerID string, v model.ExtractedVariant) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin create listing")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO listings (id, seller_id, make, model, variant_name, engine_spec, transmission, drivetrain, powertrain, horsepower, battery_kwh, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, sellerID, v.Make, v.Model, v.VariantName, v.EngineSpec,
		string(v.Transmission), string(v.Drivetrain), string(v.Powertrain),
		v.Horsepower, v.BatteryKwh, now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert listing")
	}

	if len(v.PricingOptions) > 0 {
		rows := make([][]any, 0, len(v.PricingOptions))
		for _, p := range v.PricingOptions {
			rows = append(rows, []any{uuid.New().String(), id, p.MonthlyPrice, p.FirstPayment, p.PeriodMonths, p.AnnualKm})
		}
		_, err = db.CopyRows(ctx, tx, "pricing",
			[]string{"id", "listing_id", "monthly_price", "first_payment", "period_months", "annual_km"},
			rows,
		)
		if err != nil {
			return "", eris.Wrap(err, "postgres: insert pricing")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit create listing")
	}
	return id, nil
}

func (s *PostgresStore) UpdateListing(ctx context.Context, id string, v model.ExtractedVariant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET make = $1, model = $2, variant_name = $3, engine_spec = $4, transmission = $5, drivetrain = $6, powertrain = $7, horsepower = $8, battery_kwh = $9, updated_at = $10
		 WHERE id = $11`,
		v.Make, v.Model, v.VariantName, v.EngineSpec,
		string(v.Transmission), string(v.Drivetrain), string(v.Powertrain),
		v.Horsepower, v.BatteryKwh, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update listing %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "listing %s", id)
	}
	return s.replacePricing(ctx, id, v.PricingOptions)
}

// replacePricing reconciles the pricing table with the new option set:
// existing tiers are upserted in place, tiers absent from the new set are
// deleted.
func (s *PostgresStore) replacePricing(ctx context.Context, listingID string, opts []model.PricingOption) error {
	if len(opts) == 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM pricing WHERE listing_id = $1`, listingID)
		return eris.Wrapf(err, "postgres: clear pricing for %s", listingID)
	}

	rows := make([][]any, 0, len(opts))
	for _, p := range opts {
		rows = append(rows, []any{uuid.New().String(), listingID, p.MonthlyPrice, p.FirstPayment, p.PeriodMonths, p.AnnualKm})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "pricing",
		Columns:      []string{"id", "listing_id", "monthly_price", "first_payment", "period_months", "annual_km"},
		ConflictKeys: []string{"listing_id", "period_months", "annual_km"},
		UpdateCols:   []string{"monthly_price", "first_payment"},
	}, rows)
	if err != nil {
		return err
	}

	// Drop tiers the new set no longer carries.
	del := `DELETE FROM pricing WHERE listing_id = $1 AND (period_months, annual_km) NOT IN (`
	args := []any{listingID}
	tuples := make([]string, 0, len(opts))
	for _, p := range opts {
		tuples = append(tuples, fmt.Sprintf("($%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, p.PeriodMonths, p.AnnualKm)
	}
	del += strings.Join(tuples, ", ") + ")"

	_, err = s.pool.Exec(ctx, del, args...)
	return eris.Wrapf(err, "postgres: prune pricing for %s", listingID)
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete listing %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "listing %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *model.ExtractionSession, proposals []model.ChangeProposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create session")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO extraction_sessions (id, seller_id, status, total_extracted, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.SellerID, string(session.Status), session.TotalExtracted, session.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert session")
	}

	if len(proposals) > 0 {
		rows := make([][]any, 0, len(proposals))
		for _, p := range proposals {
			extracted, diff, err := marshalProposalPayload(p)
			if err != nil {
				return err
			}
			var existing any
			if p.ExistingListingID != "" {
				existing = p.ExistingListingID
			}
			rows = append(rows, []any{
				p.ID, p.SessionID, string(p.Type), string(p.Status), existing,
				extracted, diff, p.Confidence, p.Error, p.CreatedAt, p.UpdatedAt,
			})
		}
		_, err = db.CopyRows(ctx, tx, "change_proposals",
			[]string{"id", "session_id", "change_type", "status", "existing_listing_id", "extracted", "field_diff", "confidence", "error", "created_at", "updated_at"},
			rows,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert proposals")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.ExtractionSession, error) {
	var sess model.ExtractionSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, status, total_extracted, created_at FROM extraction_sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.SellerID, &sess.Status, &sess.TotalExtracted, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ExtractionSession, error) {
	query := `SELECT id, seller_id, status, total_extracted, created_at FROM extraction_sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SellerID != "" {
		query += fmt.Sprintf(` AND seller_id = $%d`, argIdx)
		args = append(args, filter.SellerID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.ExtractionSession
	for rows.Next() {
		var sess model.ExtractionSession
		if err := rows.Scan(&sess.ID, &sess.SellerID, &sess.Status, &sess.TotalExtracted, &sess.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_sessions SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "session %s", id)
	}
	return nil
}

const proposalColumns = `id, session_id, change_type, status, existing_listing_id, extracted, field_diff, confidence, error, created_at, updated_at`

func (s *PostgresStore) ProposalsBySession(ctx context.Context, sessionID string) ([]model.ChangeProposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM change_proposals WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: proposals for session %s", sessionID)
	}
	return collectProposals(rows)
}

func (s *PostgresStore) ProposalsByStatus(ctx context.Context, sessionID string, status model.ProposalStatus) ([]model.ChangeProposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM change_proposals WHERE session_id = $1 AND status = $2 ORDER BY created_at, id`,
		sessionID, string(status),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: proposals for session %s status %s", sessionID, status)
	}
	return collectProposals(rows)
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, id string, from, to model.ProposalStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE change_proposals SET status = $1, error = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(to), errMsg, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update proposal %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing row from a lost race on the status.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM change_proposals WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "proposal %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: probe proposal %s", id)
	}
	return eris.Wrapf(model.ErrInvalidTransition, "proposal %s: %s -> %s (currently %s)", id, from, to, current)
}

func (s *PostgresStore) RecordApply(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO apply_log (id, session_id, change_id, action, actor, outcome, reason, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SessionID, entry.ChangeID, string(entry.Action),
		entry.Actor, entry.Outcome, entry.Reason, entry.At,
	)
	return eris.Wrap(err, "postgres: record apply")
}

func (s *PostgresStore) AuditBySession(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, change_id, action, actor, outcome, reason, at
		 FROM apply_log WHERE session_id = $1 ORDER BY at, id`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: audit for session %s", sessionID)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ChangeID, &e.Action, &e.Actor, &e.Outcome, &e.Reason, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: audit iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner, l *model.StoredListing) error {
	return row.Scan(&l.ID, &l.SellerID, &l.Make, &l.Model, &l.VariantName,
		&l.EngineSpec, &l.Transmission, &l.Drivetrain, &l.Powertrain,
		&l.Horsepower, &l.BatteryKwh, &l.CreatedAt, &l.UpdatedAt)
}

func collectProposals(rows pgx.Rows) ([]model.ChangeProposal, error) {
	defer rows.Close()

	var proposals []model.ChangeProposal
	for rows.Next() {
		var p model.ChangeProposal
		var existing *string
		var extractedJSON, diffJSON []byte
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Type, &p.Status, &existing,
			&extractedJSON, &diffJSON, &p.Confidence, &p.Error, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan proposal")
		}
		if existing != nil {
			p.ExistingListingID = *existing
		}
		if len(extractedJSON) > 0 {
			p.Extracted = &model.ExtractedVariant{}
			if err := json.Unmarshal(extractedJSON, p.Extracted); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal extracted")
			}
		}
		if len(diffJSON) > 0 {
			if err := json.Unmarshal(diffJSON, &p.FieldDiff); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal field diff")
			}
		}
		proposals = append(proposals, p)
	}
	return proposals, eris.Wrap(rows.Err(), "postgres: proposals iterate")
}

func marshalProposalPayload(p model.ChangeProposal) (extracted, diff []byte, err error) {
	if p.Extracted != nil {
		extracted, err = json.Marshal(p.Extracted)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: marshal extracted")
		}
	}
	if len(p.FieldDiff) > 0 {
		diff, err = json.Marshal(p.FieldDiff)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: marshal field diff")
		}
	}
	return extracted, diff, nil
}
