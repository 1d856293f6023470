package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leadline-ai/leadline/internal/db"
	"github.com/leadline-ai/leadline/internal/model"
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

// preparedStatements lists queries to prepare on each new connection. These
// are the webhook hot path: every provider event resolves and patches a call.
var preparedStatements = map[string]string{
	"get_call_by_provider": `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`,
	"update_call_status":   `UPDATE calls SET status = $2, current_status = $3, last_webhook_at = $4, updated_at = $4 WHERE id = $1`,
	"append_transcript":    `UPDATE calls SET transcript = transcript || $2::jsonb, last_webhook_at = $3, updated_at = $3 WHERE id = $1`,
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

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS agencies (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS flows (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agency_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_flows_agency ON flows(agency_id);
CREATE INDEX IF NOT EXISTS idx_flows_status ON flows(status);

CREATE TABLE IF NOT EXISTS opportunities (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	flow_id      TEXT NOT NULL,
	agency_id    TEXT NOT NULL,
	place_id     TEXT NOT NULL,
	name         TEXT NOT NULL,
	website      TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	rating       DOUBLE PRECISION NOT NULL DEFAULT 0,
	reviews      INTEGER NOT NULL DEFAULT 0,
	score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	fit_reason   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'sourced',
	meeting_time TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunities_flow ON opportunities(flow_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);

CREATE TABLE IF NOT EXISTS audit_jobs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	opportunity_id TEXT NOT NULL UNIQUE,
	flow_id        TEXT NOT NULL,
	website        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	error          TEXT NOT NULL DEFAULT '',
	dossier        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_pages (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id      TEXT NOT NULL REFERENCES audit_jobs(id),
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	blob_ref    TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (job_id, url)
);

CREATE TABLE IF NOT EXISTS calls (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	opportunity_id   TEXT NOT NULL,
	agency_id        TEXT NOT NULL,
	customer_number  TEXT NOT NULL,
	assistant        JSONB NOT NULL,
	status           TEXT NOT NULL DEFAULT 'initiated',
	current_status   TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL DEFAULT '',
	provider_call_id TEXT NOT NULL DEFAULT '',
	monitor_urls     JSONB NOT NULL DEFAULT '[]',
	transcript       JSONB NOT NULL DEFAULT '[]',
	summary          TEXT NOT NULL DEFAULT '',
	recording_url    TEXT NOT NULL DEFAULT '',
	ended_reason     TEXT NOT NULL DEFAULT '',
	billing_seconds  INTEGER NOT NULL DEFAULT 0,
	meeting_time     TIMESTAMPTZ,
	metadata         JSONB NOT NULL DEFAULT '{}',
	last_webhook_at  TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_provider ON calls(provider_call_id) WHERE provider_call_id <> '';
CREATE INDEX IF NOT EXISTS idx_calls_opportunity ON calls(opportunity_id);

CREATE TABLE IF NOT EXISTS meetings (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agency_id      TEXT NOT NULL,
	opportunity_id TEXT NOT NULL,
	call_id        TEXT NOT NULL,
	meeting_time   TIMESTAMPTZ NOT NULL,
	source         TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (agency_id, meeting_time)
);

CREATE INDEX IF NOT EXISTS idx_meetings_agency_time ON meetings(agency_id, meeting_time);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	next_run_at TIMESTAMPTZ NOT NULL,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_next_run ON tasks(next_run_at);
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

// ===== Agencies =====

func (s *PostgresStore) UpsertAgency(ctx context.Context, a *model.Agency) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	doc, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal agency")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agencies (id, doc, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		a.ID, doc, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert agency")
}

func (s *PostgresStore) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	var doc []byte
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT doc, created_at FROM agencies WHERE id = $1`,
		id,
	).Scan(&doc, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get agency %s", id)
	}

	var a model.Agency
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal agency")
	}
	a.ID = id
	a.CreatedAt = createdAt
	return &a, nil
}

// ===== Flows =====

func (s *PostgresStore) CreateFlow(ctx context.Context, flow *model.Flow) error {
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	doc, err := json.Marshal(flow)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flow")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO flows (id, agency_id, status, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		flow.ID, flow.AgencyID, string(flow.Status), doc, now, now,
	)
	return eris.Wrap(err, "postgres: insert flow")
}

func (s *PostgresStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	var doc []byte
	var status string
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT status, doc, created_at, updated_at FROM flows WHERE id = $1`,
		id,
	).Scan(&status, &doc, &createdAt, &updatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get flow %s", id)
	}

	var f model.Flow
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal flow")
	}
	f.ID = id
	f.Status = model.FlowStatus(status)
	f.CreatedAt = createdAt
	f.UpdatedAt = updatedAt
	return &f, nil
}

func (s *PostgresStore) UpdateFlow(ctx context.Context, flow *model.Flow) error {
	flow.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(flow)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flow")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE flows SET status = $2, doc = $3, updated_at = $4 WHERE id = $1`,
		flow.ID, string(flow.Status), doc, flow.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update flow %s", flow.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("flow not found: %s", flow.ID)
	}
	return nil
}

// ===== Opportunities =====

var opportunityColumns = []string{
	"id", "flow_id", "agency_id", "place_id", "name", "website", "phone",
	"address", "rating", "reviews", "score", "fit_reason", "status",
	"created_at", "updated_at",
}

func (s *PostgresStore) CreateOpportunities(ctx context.Context, opps []model.Opportunity) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(opps))
	for i := range opps {
		o := &opps[i]
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		o.CreatedAt = now
		o.UpdatedAt = now
		rows = append(rows, []any{
			o.ID, o.FlowID, o.AgencyID, o.PlaceID, o.Name, o.Website, o.Phone,
			o.Address, o.Rating, o.Reviews, o.Score, o.FitReason, string(o.Status),
			now, now,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "opportunities", opportunityColumns, rows)
	return eris.Wrap(err, "postgres: insert opportunities")
}

const opportunitySelect = `SELECT id, flow_id, agency_id, place_id, name, website, phone, address,
	rating, reviews, score, fit_reason, status, meeting_time, created_at, updated_at FROM opportunities`

func scanOpportunity(row pgx.Row) (*model.Opportunity, error) {
	var o model.Opportunity
	var status string
	if err := row.Scan(&o.ID, &o.FlowID, &o.AgencyID, &o.PlaceID, &o.Name, &o.Website,
		&o.Phone, &o.Address, &o.Rating, &o.Reviews, &o.Score, &o.FitReason,
		&status, &o.MeetingTime, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = model.OpportunityStatus(status)
	return &o, nil
}

func (s *PostgresStore) GetOpportunity(ctx context.Context, id string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx, opportunitySelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get opportunity %s", id)
	}
	return o, nil
}

func (s *PostgresStore) ListFlowOpportunities(ctx context.Context, flowID string) ([]model.Opportunity, error) {
	rows, err := s.pool.Query(ctx, opportunitySelect+` WHERE flow_id = $1 ORDER BY score DESC, created_at ASC`, flowID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		opps = append(opps, *o)
	}
	return opps, eris.Wrap(rows.Err(), "postgres: list opportunities iterate")
}

func (s *PostgresStore) UpdateOpportunityRank(ctx context.Context, id string, score float64, fitReason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET score = $2, fit_reason = $3, updated_at = $4 WHERE id = $1`,
		id, score, fitReason, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update opportunity rank %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("opportunity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateOpportunityStatus(ctx context.Context, id string, status model.OpportunityStatus, meetingTime *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $2, meeting_time = COALESCE($3, meeting_time), updated_at = $4 WHERE id = $1`,
		id, string(status), meetingTime, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update opportunity status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("opportunity not found: %s", id)
	}
	return nil
}

// ===== Audit jobs =====

func (s *PostgresStore) GetAuditJobByOpportunity(ctx context.Context, opportunityID string) (*model.AuditJob, error) {
	var j model.AuditJob
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, opportunity_id, flow_id, website, status, error, dossier, created_at, updated_at
		 FROM audit_jobs WHERE opportunity_id = $1`,
		opportunityID,
	).Scan(&j.ID, &j.OpportunityID, &j.FlowID, &j.Website, &status, &j.Error, &j.Dossier, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get audit job")
	}
	j.Status = model.AuditJobStatus(status)
	return &j, nil
}

func (s *PostgresStore) CreateAuditJob(ctx context.Context, job *model.AuditJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	// Idempotent per opportunity: a concurrent duplicate is silently dropped.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_jobs (id, opportunity_id, flow_id, website, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (opportunity_id) DO NOTHING`,
		job.ID, job.OpportunityID, job.FlowID, job.Website, string(job.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert audit job")
}

func (s *PostgresStore) UpdateAuditJob(ctx context.Context, job *model.AuditJob) error {
	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_jobs SET status = $2, error = $3, dossier = $4, updated_at = $5 WHERE id = $1`,
		job.ID, string(job.Status), job.Error, job.Dossier, job.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audit job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("audit_job not found: %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) UpsertAuditPage(ctx context.Context, page *model.AuditPage) error {
	if page.ID == "" {
		page.ID = uuid.New().String()
	}
	page.UpdatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_pages (id, job_id, url, title, status, blob_ref, status_code, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_id, url) DO UPDATE SET
		   title = $4, status = $5, blob_ref = $6, status_code = $7, updated_at = $8`,
		page.ID, page.JobID, page.URL, page.Title, string(page.Status), page.BlobRef, page.StatusCode, page.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert audit page")
}

func (s *PostgresStore) ListAuditPages(ctx context.Context, jobID string) ([]model.AuditPage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, url, title, status, blob_ref, status_code, updated_at
		 FROM audit_pages WHERE job_id = $1 ORDER BY url`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit pages")
	}
	defer rows.Close()

	var pages []model.AuditPage
	for rows.Next() {
		var p model.AuditPage
		var status string
		if err := rows.Scan(&p.ID, &p.JobID, &p.URL, &p.Title, &status, &p.BlobRef, &p.StatusCode, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit page")
		}
		p.Status = model.PageStatus(status)
		pages = append(pages, p)
	}
	return pages, eris.Wrap(rows.Err(), "postgres: list audit pages iterate")
}

// ===== Calls =====

const callColumns = `id, opportunity_id, agency_id, customer_number, assistant, status, current_status,
	outcome, provider_call_id, monitor_urls, transcript, summary, recording_url, ended_reason,
	billing_seconds, meeting_time, metadata, last_webhook_at, created_at, updated_at`

func scanCall(row pgx.Row) (*model.Call, error) {
	var c model.Call
	var status, outcome string
	var assistantJSON, monitorJSON, transcriptJSON, metadataJSON []byte

	if err := row.Scan(&c.ID, &c.OpportunityID, &c.AgencyID, &c.CustomerNumber, &assistantJSON,
		&status, &c.CurrentStatus, &outcome, &c.ProviderCallID, &monitorJSON, &transcriptJSON,
		&c.Summary, &c.RecordingURL, &c.EndedReason, &c.BillingSeconds, &c.MeetingTime,
		&metadataJSON, &c.LastWebhookAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = model.CallStatus(status)
	c.Outcome = model.CallOutcome(outcome)

	if err := json.Unmarshal(assistantJSON, &c.Assistant); err != nil {
		return nil, eris.Wrap(err, "unmarshal assistant")
	}
	if err := json.Unmarshal(monitorJSON, &c.MonitorURLs); err != nil {
		return nil, eris.Wrap(err, "unmarshal monitor urls")
	}
	if err := json.Unmarshal(transcriptJSON, &c.Transcript); err != nil {
		return nil, eris.Wrap(err, "unmarshal transcript")
	}
	if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
		return nil, eris.Wrap(err, "unmarshal metadata")
	}
	return &c, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, call *model.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now

	assistantJSON, err := json.Marshal(call.Assistant)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assistant")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO calls (id, opportunity_id, agency_id, customer_number, assistant, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		call.ID, call.OpportunityID, call.AgencyID, call.CustomerNumber, assistantJSON,
		string(call.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert call")
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	c, err := scanCall(s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get call %s", id)
	}
	return c, nil
}

// GetCallByProviderID resolves a call from a webhook's provider call id.
// Returns (nil, nil) when no call carries the id yet: events racing the
// attach step are expected and dropped by the caller. The empty id is
// never looked up; it is the column default for unattached calls.
func (s *PostgresStore) GetCallByProviderID(ctx context.Context, providerID string) (*model.Call, error) {
	if providerID == "" {
		return nil, nil
	}
	c, err := scanCall(s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE provider_call_id = $1`, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get call by provider id %s", providerID)
	}
	return c, nil
}

// AttachProviderCall binds the provider's call id exactly once. Returns false
// without error when the call already has a provider id (idempotent retry).
func (s *PostgresStore) AttachProviderCall(ctx context.Context, callID, providerID string, monitorURLs []string) (bool, error) {
	urlsJSON, err := json.Marshal(monitorURLs)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal monitor urls")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET provider_call_id = $2, monitor_urls = $3, status = $4, updated_at = $5
		 WHERE id = $1 AND provider_call_id = ''`,
		callID, providerID, urlsJSON, string(model.CallStatusQueued), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: attach provider call %s", callID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateCallStatus(ctx context.Context, callID string, status model.CallStatus, currentStatus string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET status = $2, current_status = $3, last_webhook_at = $4, updated_at = $4 WHERE id = $1`,
		callID, string(status), currentStatus, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update call status %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

// AppendTranscript concatenates one fragment onto the transcript array in a
// single statement, so concurrent appends never clobber each other.
func (s *PostgresStore) AppendTranscript(ctx context.Context, callID string, frag model.TranscriptFragment, at time.Time) error {
	fragJSON, err := json.Marshal([]model.TranscriptFragment{frag})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal transcript fragment")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET transcript = transcript || $2::jsonb, last_webhook_at = $3, updated_at = $3 WHERE id = $1`,
		callID, fragJSON, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append transcript %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

func (s *PostgresStore) CompleteCall(ctx context.Context, callID, summary, recordingURL, endedReason string, billingSeconds *int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET summary = $2, recording_url = $3, ended_reason = $4,
		   billing_seconds = COALESCE($5, billing_seconds),
		   status = $6, current_status = $6, last_webhook_at = $7, updated_at = $7
		 WHERE id = $1`,
		callID, summary, recordingURL, endedReason, billingSeconds,
		string(model.CallStatusCompleted), at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete call %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

func (s *PostgresStore) RecordMetering(ctx context.Context, callID string, m model.CallMetering) error {
	meteringJSON, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metering")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET metadata = jsonb_set(metadata, '{metering}', $2::jsonb, true), updated_at = $3 WHERE id = $1`,
		callID, meteringJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record metering %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

func (s *PostgresStore) MarkFollowUpSent(ctx context.Context, callID string, at time.Time) error {
	atJSON, err := json.Marshal(at)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal follow-up time")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET metadata = jsonb_set(metadata, '{follow_up_sent_at}', $2::jsonb, true), updated_at = $3 WHERE id = $1`,
		callID, atJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark follow-up sent %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

func (s *PostgresStore) UpdateCallOutcome(ctx context.Context, callID string, outcome model.CallOutcome, status model.CallStatus, currentStatus string, meetingTime *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET outcome = $2, status = $3, current_status = $4,
		   meeting_time = COALESCE($5, meeting_time), updated_at = $6
		 WHERE id = $1`,
		callID, string(outcome), string(status), currentStatus, meetingTime, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update call outcome %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

// ===== Meetings =====

// CreateMeeting inserts a meeting, returning false when another meeting
// already holds the (agency, instant) pair. The unique index turns the
// check-then-insert race into a clean conflict instead of a double booking.
func (s *PostgresStore) CreateMeeting(ctx context.Context, m *model.Meeting) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO meetings (id, agency_id, opportunity_id, call_id, meeting_time, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agency_id, meeting_time) DO NOTHING`,
		m.ID, m.AgencyID, m.OpportunityID, m.CallID, m.MeetingTime, m.Source, m.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert meeting")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MeetingExistsAt(ctx context.Context, agencyID string, at time.Time) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM meetings WHERE agency_id = $1 AND meeting_time = $2`,
		agencyID, at,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "postgres: meeting exists")
	}
	return count > 0, nil
}

func (s *PostgresStore) ListMeetings(ctx context.Context, agencyID string, from, to time.Time) ([]model.Meeting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agency_id, opportunity_id, call_id, meeting_time, source, created_at
		 FROM meetings WHERE agency_id = $1 AND meeting_time >= $2 AND meeting_time < $3
		 ORDER BY meeting_time`,
		agencyID, from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list meetings")
	}
	defer rows.Close()

	var meetings []model.Meeting
	for rows.Next() {
		var m model.Meeting
		if err := rows.Scan(&m.ID, &m.AgencyID, &m.OpportunityID, &m.CallID, &m.MeetingTime, &m.Source, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan meeting")
		}
		meetings = append(meetings, m)
	}
	return meetings, eris.Wrap(rows.Err(), "postgres: list meetings iterate")
}

// ===== Tasks =====

func (s *PostgresStore) EnqueueTask(ctx context.Context, kind model.TaskKind, payload any, maxRetries int) (*model.Task, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal task payload")
	}

	t := &model.Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payloadJSON,
		MaxRetries: maxRetries,
		NextRunAt:  time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, kind, payload, retry_count, max_retries, next_run_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, string(t.Kind), payloadJSON, 0, maxRetries, t.NextRunAt, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enqueue task")
	}
	return t, nil
}

func (s *PostgresStore) DueTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, payload, retry_count, max_retries, next_run_at, last_error, created_at
		 FROM tasks WHERE next_run_at <= now() AND retry_count < max_retries
		 ORDER BY next_run_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var kind string
		if err := rows.Scan(&t.ID, &kind, &t.Payload, &t.RetryCount, &t.MaxRetries, &t.NextRunAt, &t.LastError, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t.Kind = model.TaskKind(kind)
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: due tasks iterate")
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: complete task %s", id)
}

func (s *PostgresStore) RetryTask(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET retry_count = retry_count + 1, next_run_at = $2, last_error = $3 WHERE id = $1`,
		id, nextRunAt, lastErr,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retry task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("task not found: %s", id)
	}
	return nil
}
