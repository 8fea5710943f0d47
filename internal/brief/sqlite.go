package brief

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite. Timestamps are stored as fixed-width UTC
// text so they compare correctly as strings.
type SQLiteStore struct {
	db *sqlx.DB
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS briefs (
	id              TEXT PRIMARY KEY,
	topic           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'generating',
	owner_id        TEXT,
	summary         TEXT NOT NULL DEFAULT '',
	search_metadata TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	expires_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_briefs_owner_created ON briefs (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_briefs_status ON briefs (status);
CREATE INDEX IF NOT EXISTS idx_briefs_expires ON briefs (expires_at);

CREATE TABLE IF NOT EXISTS trials (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	brief_id   TEXT NOT NULL REFERENCES briefs (id) ON DELETE CASCADE,
	nct_id     TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	sponsor    TEXT NOT NULL DEFAULT '',
	phase      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	start_date TEXT,
	url        TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trials_brief_start ON trials (brief_id, start_date DESC);
CREATE INDEX IF NOT EXISTS idx_trials_nct ON trials (nct_id);
CREATE INDEX IF NOT EXISTS idx_trials_phase ON trials (phase);
`

type briefRow struct {
	ID             string         `db:"id"`
	Topic          string         `db:"topic"`
	Status         string         `db:"status"`
	OwnerID        sql.NullString `db:"owner_id"`
	Summary        string         `db:"summary"`
	SearchMetadata sql.NullString `db:"search_metadata"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
	ExpiresAt      string         `db:"expires_at"`
}

type trialRow struct {
	ID        int64          `db:"id"`
	BriefID   string         `db:"brief_id"`
	NCTID     string         `db:"nct_id"`
	Title     string         `db:"title"`
	Sponsor   string         `db:"sponsor"`
	Phase     string         `db:"phase"`
	Status    string         `db:"status"`
	StartDate sql.NullString `db:"start_date"`
	URL       string         `db:"url"`
	CreatedAt string         `db:"created_at"`
}

const briefColumns = "id, topic, status, owner_id, summary, search_metadata, created_at, updated_at, expires_at"

const trialColumns = "id, brief_id, nct_id, title, sponsor, phase, status, start_date, url, created_at"

const insertTrialSQL = `INSERT INTO trials (brief_id, nct_id, title, sponsor, phase, status, start_date, url, created_at)
VALUES (:brief_id, :nct_id, :title, :sponsor, :phase, :status, :start_date, :url, :created_at)`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBrief(ctx context.Context, b *Brief) error {
	row := toBriefRow(b)
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO briefs (`+briefColumns+`)
VALUES (:id, :topic, :status, :owner_id, :summary, :search_metadata, :created_at, :updated_at, :expires_at)`, row)
	if err != nil {
		return fmt.Errorf("insert brief: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBrief(ctx context.Context, id string) (*Brief, error) {
	var row briefRow
	err := s.db.GetContext(ctx, &row, "SELECT "+briefColumns+" FROM briefs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brief: %w", err)
	}
	b := row.toBrief()
	return &b, nil
}

func (s *SQLiteStore) ListBriefs(ctx context.Context, f ListFilter) ([]Brief, int, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		where = append(where, `(topic LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ActiveOnly {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		where = append(where, "expires_at > ?")
		args = append(args, formatTime(now))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM briefs"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count briefs: %w", err)
	}

	query := "SELECT " + briefColumns + " FROM briefs" + clause + " ORDER BY " + orderClause(f.Sort)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, max(f.Offset, 0))
	}
	var rows []briefRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list briefs: %w", err)
	}
	out := make([]Brief, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toBrief())
	}
	return out, total, nil
}

func (s *SQLiteStore) DeleteBrief(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM briefs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete brief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM briefs WHERE expires_at <= ? AND status != ?", formatTime(now), string(StatusGenerating))
	if err != nil {
		return 0, fmt.Errorf("delete expired briefs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, res RunResult, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM trials WHERE brief_id = ?", id); err != nil {
		return fmt.Errorf("clear trials: %w", err)
	}
	if len(res.Trials) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, insertTrialSQL)
		if err != nil {
			return fmt.Errorf("prepare trial insert: %w", err)
		}
		defer stmt.Close()
		for i := range res.Trials {
			t := res.Trials[i]
			t.BriefID = id
			t.CreatedAt = now
			if _, err := stmt.ExecContext(ctx, toTrialRow(t)); err != nil {
				return fmt.Errorf("insert trial %s: %w", t.NCTID, err)
			}
		}
	}

	var meta sql.NullString
	if len(res.SearchMetadata) > 0 {
		meta = sql.NullString{String: string(res.SearchMetadata), Valid: true}
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE briefs SET status = ?, summary = ?, search_metadata = ?, updated_at = ? WHERE id = ?",
		string(StatusCompleted), res.Summary, meta, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("complete brief: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveSearchMetadata(ctx context.Context, id string, meta json.RawMessage, now time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE briefs SET search_metadata = ?, updated_at = ? WHERE id = ?",
		string(meta), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("save search metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, id, summary string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE briefs SET status = ?, summary = ?, updated_at = ? WHERE id = ?",
		string(StatusFailed), summary, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("fail brief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) BeginRefresh(ctx context.Context, id string, now time.Time) (Status, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(ctx, &current, "SELECT status FROM briefs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read brief status: %w", err)
	}
	prior := Status(current)
	if prior != StatusCompleted && prior != StatusFailed {
		return prior, &StateError{ID: id, Status: prior}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE briefs SET status = ?, updated_at = ? WHERE id = ?",
		string(StatusGenerating), formatTime(now), id); err != nil {
		return "", fmt.Errorf("mark brief generating: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit refresh start: %w", err)
	}
	return prior, nil
}

func (s *SQLiteStore) RestoreStatus(ctx context.Context, id string, status Status, now time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE briefs SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("restore brief status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListTrials(ctx context.Context, briefID string) ([]Trial, error) {
	var rows []trialRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+trialColumns+" FROM trials WHERE brief_id = ? ORDER BY start_date IS NULL, start_date DESC, nct_id ASC, id ASC",
		briefID)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	out := make([]Trial, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTrial())
	}
	return out, nil
}

func (s *SQLiteStore) CountTrials(ctx context.Context, briefID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM trials WHERE brief_id = ?", briefID); err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return n, nil
}

func toBriefRow(b *Brief) briefRow {
	row := briefRow{
		ID:        b.ID,
		Topic:     b.Topic,
		Status:    string(b.Status),
		Summary:   b.Summary,
		CreatedAt: formatTime(b.CreatedAt),
		UpdatedAt: formatTime(b.UpdatedAt),
		ExpiresAt: formatTime(b.ExpiresAt),
	}
	if b.OwnerID != "" {
		row.OwnerID = sql.NullString{String: b.OwnerID, Valid: true}
	}
	if len(b.SearchMetadata) > 0 {
		row.SearchMetadata = sql.NullString{String: string(b.SearchMetadata), Valid: true}
	}
	return row
}

func (r briefRow) toBrief() Brief {
	b := Brief{
		ID:        r.ID,
		Topic:     r.Topic,
		Status:    Status(r.Status),
		OwnerID:   r.OwnerID.String,
		Summary:   r.Summary,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
		ExpiresAt: parseTime(r.ExpiresAt),
	}
	if r.SearchMetadata.Valid && r.SearchMetadata.String != "" {
		b.SearchMetadata = []byte(r.SearchMetadata.String)
	}
	return b
}

func toTrialRow(t Trial) trialRow {
	row := trialRow{
		BriefID:   t.BriefID,
		NCTID:     t.NCTID,
		Title:     t.Title,
		Sponsor:   t.Sponsor,
		Phase:     t.Phase,
		Status:    t.Status,
		URL:       t.URL,
		CreatedAt: formatTime(t.CreatedAt),
	}
	if t.StartDate != nil {
		row.StartDate = sql.NullString{String: t.StartDate.Format(time.DateOnly), Valid: true}
	}
	return row
}

func (r trialRow) toTrial() Trial {
	t := Trial{
		ID:        r.ID,
		BriefID:   r.BriefID,
		NCTID:     r.NCTID,
		Title:     r.Title,
		Sponsor:   r.Sponsor,
		Phase:     r.Phase,
		Status:    r.Status,
		URL:       r.URL,
		CreatedAt: parseTime(r.CreatedAt),
	}
	if r.StartDate.Valid {
		if d, err := time.Parse(time.DateOnly, r.StartDate.String); err == nil {
			t.StartDate = &d
		}
	}
	return t
}

func orderClause(sort string) string {
	switch sort {
	case SortOldest:
		return "created_at ASC, id ASC"
	case SortTopic:
		return "topic COLLATE NOCASE ASC, created_at DESC"
	case SortTopicDesc:
		return "topic COLLATE NOCASE DESC, created_at DESC"
	default:
		return "created_at DESC, id ASC"
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
