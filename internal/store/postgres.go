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

	"github.com/teresa-solution/fiscal-compliance-service/internal/crypto"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

// PoolConfig configures the Postgres connection pool.
type PoolConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// Postgres is the pgxpool-backed Store. Tokens are encrypted at rest.
type Postgres struct {
	pool   *pgxpool.Pool
	cipher *crypto.Cipher
}

func NewPostgres(ctx context.Context, cfg PoolConfig, cipher *crypto.Cipher) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &Postgres{pool: pool, cipher: cipher}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Credentials

const credentialColumns = `tenant_id, tax_id, access_token_enc, access_token_nonce, refresh_token_enc, refresh_token_nonce,
       expires_at, refresh_expires_at, scope, status, last_used_at, last_error, created_at, updated_at`

func (p *Postgres) scanCredential(row pgx.Row) (*model.Credential, error) {
	var (
		c                    model.Credential
		accessCT, accessIV   []byte
		refreshCT, refreshIV []byte
	)
	err := row.Scan(&c.TenantID, &c.TaxID, &accessCT, &accessIV, &refreshCT, &refreshIV,
		&c.ExpiresAt, &c.RefreshExpiresAt, &c.Scope, &c.Status, &c.LastUsedAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.AccessToken, err = p.cipher.Decrypt(accessCT, accessIV); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if c.RefreshToken, err = p.cipher.Decrypt(refreshCT, refreshIV); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &c, nil
}

func (p *Postgres) GetCredential(ctx context.Context, tenantID string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM fiscal_credentials WHERE tenant_id = $1`
	c, err := p.scanCredential(p.pool.QueryRow(ctx, query, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (p *Postgres) SaveCredential(ctx context.Context, c *model.Credential) error {
	accessCT, accessIV, err := p.cipher.Encrypt(c.AccessToken)
	if err != nil {
		return err
	}
	refreshCT, refreshIV, err := p.cipher.Encrypt(c.RefreshToken)
	if err != nil {
		return err
	}

	query := `INSERT INTO fiscal_credentials (` + credentialColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
              ON CONFLICT (tenant_id) DO UPDATE SET
                tax_id = EXCLUDED.tax_id,
                access_token_enc = EXCLUDED.access_token_enc,
                access_token_nonce = EXCLUDED.access_token_nonce,
                refresh_token_enc = EXCLUDED.refresh_token_enc,
                refresh_token_nonce = EXCLUDED.refresh_token_nonce,
                expires_at = EXCLUDED.expires_at,
                refresh_expires_at = EXCLUDED.refresh_expires_at,
                scope = EXCLUDED.scope,
                status = EXCLUDED.status,
                last_used_at = EXCLUDED.last_used_at,
                last_error = EXCLUDED.last_error,
                updated_at = EXCLUDED.updated_at`
	_, err = p.pool.Exec(ctx, query, c.TenantID, c.TaxID, accessCT, accessIV, refreshCT, refreshIV,
		c.ExpiresAt, c.RefreshExpiresAt, c.Scope, c.Status, c.LastUsedAt, c.LastError, c.CreatedAt, c.UpdatedAt)
	return err
}

func (p *Postgres) TouchCredential(ctx context.Context, tenantID string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE fiscal_credentials SET last_used_at = $2 WHERE tenant_id = $1 AND status = $3`,
		tenantID, at, model.CredentialActive)
	return err
}

func (p *Postgres) listCredentials(ctx context.Context, query string, args ...interface{}) ([]model.Credential, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		c, err := p.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (p *Postgres) ListExpiringCredentials(ctx context.Context, before time.Time) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM fiscal_credentials
              WHERE status = $1 AND expires_at < $2 AND refresh_token_enc IS NOT NULL
              ORDER BY expires_at`
	return p.listCredentials(ctx, query, model.CredentialActive, before)
}

func (p *Postgres) ListActiveCredentials(ctx context.Context) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM fiscal_credentials WHERE status = $1 ORDER BY tenant_id`
	return p.listCredentials(ctx, query, model.CredentialActive)
}

// Submissions

const submissionColumns = `id, tenant_id, tax_id, kind, external_reference, period, document_hash, document_size,
       status, authority_status, download_id, errors, retry_count, submitted_at, last_checked_at, completed_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var (
		s         model.Submission
		errorsRaw []byte
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.TaxID, &s.Kind, &s.ExternalReference, &s.Period, &s.DocumentHash, &s.DocumentSize,
		&s.Status, &s.AuthorityStatus, &s.DownloadID, &errorsRaw, &s.RetryCount, &s.SubmittedAt, &s.LastCheckedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &s.Errors); err != nil {
			return nil, fmt.Errorf("decode submission errors: %w", err)
		}
	}
	return &s, nil
}

func encodeErrors(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func (p *Postgres) CreateSubmission(ctx context.Context, s *model.Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	errorsJSON, err := encodeErrors(s.Errors)
	if err != nil {
		return err
	}
	query := `INSERT INTO fiscal_submissions (` + submissionColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = p.pool.Exec(ctx, query, s.ID, s.TenantID, s.TaxID, s.Kind, s.ExternalReference, s.Period, s.DocumentHash, s.DocumentSize,
		s.Status, s.AuthorityStatus, s.DownloadID, errorsJSON, s.RetryCount, s.SubmittedAt, s.LastCheckedAt, s.CompletedAt)
	return err
}

func (p *Postgres) getSubmission(ctx context.Context, where string, args ...interface{}) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM fiscal_submissions WHERE ` + where
	s, err := scanSubmission(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (p *Postgres) GetSubmission(ctx context.Context, tenantID string, id uuid.UUID) (*model.Submission, error) {
	return p.getSubmission(ctx, `tenant_id = $1 AND id = $2`, tenantID, id)
}

func (p *Postgres) GetSubmissionByReference(ctx context.Context, tenantID, ref string) (*model.Submission, error) {
	return p.getSubmission(ctx, `tenant_id = $1 AND external_reference = $2`, tenantID, ref)
}

func (p *Postgres) UpdateSubmission(ctx context.Context, s *model.Submission, from model.SubmissionStatus) error {
	errorsJSON, err := encodeErrors(s.Errors)
	if err != nil {
		return err
	}
	query := `UPDATE fiscal_submissions SET status = $2, authority_status = $3, download_id = $4, errors = $5,
                retry_count = $6, last_checked_at = $7, completed_at = $8
              WHERE id = $1 AND status = $9`
	tag, err := p.pool.Exec(ctx, query, s.ID, s.Status, s.AuthorityStatus, s.DownloadID, errorsJSON,
		s.RetryCount, s.LastCheckedAt, s.CompletedAt, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current model.SubmissionStatus
	err = p.pool.QueryRow(ctx, `SELECT status FROM fiscal_submissions WHERE id = $1`, s.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("submission %s is %s: %w", s.ID, current, errs.ErrStale)
}

func (p *Postgres) listSubmissions(ctx context.Context, query string, args ...interface{}) ([]model.Submission, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubmissions(ctx context.Context, tenantID string, f model.SubmissionFilter) ([]model.Submission, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Period != "" {
		add("period = $%d", f.Period)
	}
	args = append(args, listLimit(f.Limit), max(f.Offset, 0))

	query := fmt.Sprintf(`SELECT %s FROM fiscal_submissions WHERE %s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		submissionColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	return p.listSubmissions(ctx, query, args...)
}

func (p *Postgres) ListOpenSubmissions(ctx context.Context, since time.Time) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM fiscal_submissions
              WHERE status IN ($1, $2) AND submitted_at >= $3
              ORDER BY submitted_at`
	return p.listSubmissions(ctx, query, model.SubmissionPending, model.SubmissionProcessing, since)
}

func (p *Postgres) CountOpenSubmissions(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fiscal_submissions WHERE tenant_id = $1 AND status IN ($2, $3)`,
		tenantID, model.SubmissionPending, model.SubmissionProcessing).Scan(&n)
	return n, err
}

// Messages

const messageColumns = `id, tenant_id, external_message_id, type, subject, details, issuer_tax_id,
       related_submission_ref, received_at, status, read_at`

func (p *Postgres) UpsertMessage(ctx context.Context, m *model.InboundMessage) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	query := `INSERT INTO fiscal_messages (` + messageColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
              ON CONFLICT (external_message_id) DO NOTHING`
	tag, err := p.pool.Exec(ctx, query, m.ID, m.TenantID, m.ExternalMessageID, m.Type, m.Subject, m.Details, m.IssuerTaxID,
		m.RelatedSubmissionRef, m.ReceivedAt, m.Status, m.ReadAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	err = p.pool.QueryRow(ctx, `SELECT id FROM fiscal_messages WHERE external_message_id = $1`, m.ExternalMessageID).Scan(&m.ID)
	return false, err
}

func (p *Postgres) ListMessages(ctx context.Context, tenantID string, limit, offset int) ([]model.InboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM fiscal_messages WHERE tenant_id = $1
              ORDER BY received_at DESC, external_message_id DESC LIMIT $2 OFFSET $3`
	rows, err := p.pool.Query(ctx, query, tenantID, listLimit(limit), max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.InboundMessage{}
	for rows.Next() {
		var m model.InboundMessage
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ExternalMessageID, &m.Type, &m.Subject, &m.Details, &m.IssuerTaxID,
			&m.RelatedSubmissionRef, &m.ReceivedAt, &m.Status, &m.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) CountMessages(ctx context.Context, tenantID string) (int, int, error) {
	var total, unread int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $2) FROM fiscal_messages WHERE tenant_id = $1`,
		tenantID, model.MessageUnread).Scan(&total, &unread)
	return total, unread, err
}

func (p *Postgres) MarkMessageRead(ctx context.Context, tenantID string, id uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE fiscal_messages SET status = $3, read_at = COALESCE(read_at, $4)
              WHERE tenant_id = $1 AND id = $2`, tenantID, id, model.MessageRead, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Reports

const reportColumns = `tenant_id, period, report_type, status, document_hash, document_size, archive,
       external_reference, generated_at, submitted_at, updated_at`

func scanReport(row pgx.Row) (*model.ComplianceReport, error) {
	var r model.ComplianceReport
	err := row.Scan(&r.TenantID, &r.Period, &r.ReportType, &r.Status, &r.DocumentHash, &r.DocumentSize, &r.Archive,
		&r.ExternalReference, &r.GeneratedAt, &r.SubmittedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) GetReport(ctx context.Context, tenantID, period string) (*model.ComplianceReport, error) {
	query := `SELECT ` + reportColumns + ` FROM fiscal_reports WHERE tenant_id = $1 AND period = $2`
	r, err := scanReport(p.pool.QueryRow(ctx, query, tenantID, period))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *Postgres) SaveReport(ctx context.Context, r *model.ComplianceReport) error {
	query := `INSERT INTO fiscal_reports (` + reportColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
              ON CONFLICT (tenant_id, period) DO UPDATE SET
                report_type = EXCLUDED.report_type,
                status = EXCLUDED.status,
                document_hash = EXCLUDED.document_hash,
                document_size = EXCLUDED.document_size,
                archive = EXCLUDED.archive,
                external_reference = EXCLUDED.external_reference,
                generated_at = EXCLUDED.generated_at,
                submitted_at = EXCLUDED.submitted_at,
                updated_at = EXCLUDED.updated_at`
	_, err := p.pool.Exec(ctx, query, r.TenantID, r.Period, r.ReportType, r.Status, r.DocumentHash, r.DocumentSize, r.Archive,
		r.ExternalReference, r.GeneratedAt, r.SubmittedAt, r.UpdatedAt)
	return err
}

func (p *Postgres) ListReports(ctx context.Context, tenantID string, year int) ([]model.ComplianceReport, error) {
	query := `SELECT ` + reportColumns + ` FROM fiscal_reports WHERE tenant_id = $1 AND period LIKE $2 ORDER BY period DESC`
	rows, err := p.pool.Query(ctx, query, tenantID, fmt.Sprintf("%04d-%%", year))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ComplianceReport{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
