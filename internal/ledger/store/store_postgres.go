package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
	"crowdledger/pkg/platform/sentinel"
	txctx "crowdledger/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// Postgres persists the ledger in PostgreSQL. It is pure I/O; the service owns
// every rule. Outside PostgresTx each call runs in its own implicit transaction.
type Postgres struct {
	db *sql.DB
	q  txctx.Querier
}

// NewPostgres constructs a PostgreSQL-backed ledger store over a migrated schema.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// bound returns a store whose calls all run on q.
func (s *Postgres) bound(q txctx.Querier) *Postgres {
	return &Postgres{db: s.db, q: q}
}

func (s *Postgres) querier(ctx context.Context) txctx.Querier {
	if s.q != nil {
		return s.q
	}
	return txctx.Pick(ctx, s.db)
}

// EnsureOwner records owner as the platform owner on first start and fails with
// sentinel.ErrOwnerMismatch when a different owner was recorded earlier.
func (s *Postgres) EnsureOwner(ctx context.Context, owner id.Identity) error {
	q := s.querier(ctx)
	if _, err := q.ExecContext(ctx,
		`UPDATE ledger_meta SET platform_owner = $1 WHERE id = 1 AND platform_owner IS NULL`,
		owner[:],
	); err != nil {
		return fmt.Errorf("record platform owner: %w", err)
	}
	var stored []byte
	err := q.QueryRowContext(ctx, `SELECT platform_owner FROM ledger_meta WHERE id = 1`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ledger schema not initialized: %w", sentinel.ErrUnavailable)
	}
	if err != nil {
		return fmt.Errorf("load platform owner: %w", err)
	}
	if !bytes.Equal(stored, owner[:]) {
		recorded, _ := identityFromBytes(stored)
		return fmt.Errorf("ledger owned by %s, configured %s: %w", recorded, owner, sentinel.ErrOwnerMismatch)
	}
	return nil
}

// =============================================================================
// Campaigns
// =============================================================================

const campaignColumns = `id, creator, title, description, goal_amount, amount_raised, deadline,
	platform_fee_percentage, status, created_at, updated_at`

func (s *Postgres) NextCampaignID(ctx context.Context) (id.CampaignID, error) {
	var next int64
	err := s.querier(ctx).QueryRowContext(ctx,
		`UPDATE ledger_meta SET last_campaign_id = last_campaign_id + 1 WHERE id = 1 RETURNING last_campaign_id`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocate campaign id: %w", err)
	}
	return id.CampaignID(next), nil
}

func (s *Postgres) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	q := s.querier(ctx)
	var last int64
	if err := q.QueryRowContext(ctx, `SELECT last_campaign_id FROM ledger_meta WHERE id = 1`).Scan(&last); err != nil {
		return fmt.Errorf("load campaign counter: %w", err)
	}
	if uint64(campaign.ID) > uint64(last) {
		return fmt.Errorf("campaign %s was not allocated: %w", campaign.ID, sentinel.ErrInvalidState)
	}

	query := `
		INSERT INTO campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.ExecContext(ctx, query,
		int64(campaign.ID),
		campaign.Creator[:],
		campaign.Title,
		campaign.Description,
		campaign.GoalAmount,
		campaign.AmountRaised,
		campaign.Deadline,
		campaign.PlatformFeePercentage,
		string(campaign.Status),
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("campaign %s: %w", campaign.ID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	query := `
		UPDATE campaigns
		SET amount_raised = $2, status = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := s.querier(ctx).ExecContext(ctx, query,
		int64(campaign.ID),
		campaign.AmountRaised,
		string(campaign.Status),
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	return requireAffected(result, "campaign "+campaign.ID.String())
}

func (s *Postgres) FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, int64(campaignID))
	campaign, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find campaign: %w", err)
	}
	return campaign, nil
}

func (s *Postgres) FindCampaigns(ctx context.Context, campaignIDs []id.CampaignID) ([]*models.Campaign, error) {
	raw := make([]int64, len(campaignIDs))
	for i, campaignID := range campaignIDs {
		raw[i] = int64(campaignID)
	}
	found, err := s.queryCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ANY($1::text::bigint[])`, pq.Array(raw))
	if err != nil {
		return nil, err
	}
	byID := make(map[id.CampaignID]*models.Campaign, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]*models.Campaign, 0, len(campaignIDs))
	for _, campaignID := range campaignIDs {
		c, ok := byID[campaignID]
		if !ok {
			return nil, fmt.Errorf("campaign %s: %w", campaignID, sentinel.ErrNotFound)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Postgres) ListCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
}

func (s *Postgres) ListCampaignsByCreator(ctx context.Context, creator id.Identity) ([]*models.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE creator = $1 ORDER BY id`, creator[:])
}

func (s *Postgres) CountCampaigns(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM campaigns`)
}

func (s *Postgres) CountCampaignsByCreator(ctx context.Context, creator id.Identity) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM campaigns WHERE creator = $1`, creator[:])
}

func (s *Postgres) queryCampaigns(ctx context.Context, query string, args ...any) ([]*models.Campaign, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Campaign, 0)
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func (s *Postgres) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.querier(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count campaigns: %w", err)
	}
	return n, nil
}

// =============================================================================
// Contributions and fee pool
// =============================================================================

func (s *Postgres) FindContribution(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := s.querier(ctx).QueryRowContext(ctx,
		`SELECT amount FROM contributions WHERE campaign_id = $1 AND contributor = $2`,
		int64(campaignID), contributor[:],
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("find contribution: %w", err)
	}
	return amount, nil
}

func (s *Postgres) SaveContribution(ctx context.Context, contribution *models.Contribution) error {
	query := `
		INSERT INTO contributions (campaign_id, contributor, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, contributor) DO UPDATE SET
			amount = EXCLUDED.amount
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		int64(contribution.CampaignID),
		contribution.Contributor[:],
		contribution.Amount,
	)
	if err != nil {
		return fmt.Errorf("save contribution: %w", err)
	}
	return nil
}

func (s *Postgres) ListContributions(ctx context.Context, campaignID id.CampaignID) ([]*models.Contribution, error) {
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT contributor, amount FROM contributions WHERE campaign_id = $1 ORDER BY contributor`,
		int64(campaignID))
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Contribution, 0)
	for rows.Next() {
		var (
			raw    []byte
			amount decimal.Decimal
		)
		if err := rows.Scan(&raw, &amount); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		contributor, err := identityFromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &models.Contribution{CampaignID: campaignID, Contributor: contributor, Amount: amount})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return out, nil
}

func (s *Postgres) FeePool(ctx context.Context) (decimal.Decimal, error) {
	var pool decimal.Decimal
	if err := s.querier(ctx).QueryRowContext(ctx, `SELECT fee_pool FROM ledger_meta WHERE id = 1`).Scan(&pool); err != nil {
		return decimal.Zero, fmt.Errorf("load fee pool: %w", err)
	}
	return pool, nil
}

func (s *Postgres) SaveFeePool(ctx context.Context, amount decimal.Decimal) error {
	result, err := s.querier(ctx).ExecContext(ctx, `UPDATE ledger_meta SET fee_pool = $1 WHERE id = 1`, amount)
	if err != nil {
		return fmt.Errorf("save fee pool: %w", err)
	}
	return requireAffected(result, "fee pool")
}

// =============================================================================
// Transfers
// =============================================================================

const transferColumns = `id, kind, campaign_id, recipient, amount, fee, status, created_at, settled_at`

func (s *Postgres) CreateTransfer(ctx context.Context, transfer *models.Transfer) error {
	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		transfer.ID.String(),
		string(transfer.Kind),
		nullCampaignID(transfer.CampaignID),
		transfer.Recipient[:],
		transfer.Amount,
		transfer.Fee,
		string(transfer.Status),
		transfer.CreatedAt,
		transfer.SettledAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("transfer %s: %w", transfer.ID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateTransfer(ctx context.Context, transfer *models.Transfer) error {
	result, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE transfers SET status = $2, settled_at = $3 WHERE id = $1`,
		transfer.ID.String(), string(transfer.Status), transfer.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	return requireAffected(result, "transfer "+transfer.ID.String())
}

func (s *Postgres) FindTransfer(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, transferID.String())
	transfer, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transfer: %w", err)
	}
	return transfer, nil
}

func (s *Postgres) ListPendingTransfers(ctx context.Context) ([]*models.Transfer, error) {
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE status = $1 ORDER BY created_at, id`,
		string(models.TransferStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending transfers: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}

// =============================================================================
// Events
// =============================================================================

func (s *Postgres) AppendEvent(ctx context.Context, event *models.Event) error {
	q := s.querier(ctx)
	var seq int64
	if err := q.QueryRowContext(ctx,
		`UPDATE ledger_meta SET last_event_seq = last_event_seq + 1 WHERE id = 1 RETURNING last_event_seq`,
	).Scan(&seq); err != nil {
		return fmt.Errorf("allocate event seq: %w", err)
	}
	event.Seq = uint64(seq)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO ledger_events (seq, type, campaign_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		seq, string(event.Type), nullCampaignID(event.CampaignID), string(payload), event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Postgres) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]*models.Event, error) {
	query := `SELECT seq, payload FROM ledger_events WHERE seq > $1 ORDER BY seq`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Event, 0)
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event models.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", seq, err)
		}
		event.Seq = uint64(seq)
		out = append(out, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// RelayCursor returns the Seq of the last event the outbox relay delivered.
func (s *Postgres) RelayCursor(ctx context.Context) (uint64, error) {
	var cursor int64
	if err := s.querier(ctx).QueryRowContext(ctx, `SELECT relay_cursor FROM ledger_meta WHERE id = 1`).Scan(&cursor); err != nil {
		return 0, fmt.Errorf("load relay cursor: %w", err)
	}
	return uint64(cursor), nil
}

// SaveRelayCursor advances the relay cursor. It never moves backwards.
func (s *Postgres) SaveRelayCursor(ctx context.Context, seq uint64) error {
	_, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE ledger_meta SET relay_cursor = GREATEST(relay_cursor, $1) WHERE id = 1`, int64(seq))
	if err != nil {
		return fmt.Errorf("save relay cursor: %w", err)
	}
	return nil
}

// =============================================================================
// Scanning helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c          models.Campaign
		campaignID int64
		creator    []byte
		status     string
	)
	if err := row.Scan(
		&campaignID,
		&creator,
		&c.Title,
		&c.Description,
		&c.GoalAmount,
		&c.AmountRaised,
		&c.Deadline,
		&c.PlatformFeePercentage,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	identity, err := identityFromBytes(creator)
	if err != nil {
		return nil, err
	}
	c.ID = id.CampaignID(campaignID)
	c.Creator = identity
	c.Status = models.CampaignStatus(status)
	c.Deadline = c.Deadline.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	var (
		t          models.Transfer
		rawID      string
		kind       string
		campaignID sql.NullInt64
		recipient  []byte
		status     string
		settledAt  sql.NullTime
	)
	if err := row.Scan(&rawID, &kind, &campaignID, &recipient, &t.Amount, &t.Fee, &status, &t.CreatedAt, &settledAt); err != nil {
		return nil, err
	}
	transferID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer id: %w", err)
	}
	identity, err := identityFromBytes(recipient)
	if err != nil {
		return nil, err
	}
	t.ID = transferID
	t.Kind = models.TransferKind(kind)
	t.CampaignID = id.CampaignID(campaignID.Int64)
	t.Recipient = identity
	t.Status = models.TransferStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	if settledAt.Valid {
		settled := settledAt.Time.UTC()
		t.SettledAt = &settled
	}
	return &t, nil
}

func identityFromBytes(raw []byte) (id.Identity, error) {
	var identity id.Identity
	if len(raw) != len(identity) {
		return identity, fmt.Errorf("stored identity has %d bytes", len(raw))
	}
	copy(identity[:], raw)
	return identity, nil
}

func nullCampaignID(campaignID id.CampaignID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(campaignID), Valid: !campaignID.IsNil()}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func requireAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	return nil
}
