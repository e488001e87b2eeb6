package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/pubwatch/idgen"
)

// Store wraps the catalog database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Default}
}

// SetIDGenerator overrides the row ID generator. Test hook.
func (s *Store) SetIDGenerator(gen idgen.Generator) { s.newID = gen }

const adColumns = `id, account_id, competitor_id, platform, content_hash, ad_copy,
	cta, creative_urls, landing_url, fetched_at, snapshot_url, h1, h2,
	form_present, pixel_present, snapshot_attempts, created_at`

// BulkInsert inserts rows with skip-duplicates-on-conflict semantics and
// returns how many actually landed. Rows without an ID get one assigned.
// A conflict on the dedup index is silently skipped — it is the second
// line of defense behind the kv claim window, not an error.
func (s *Store) BulkInsert(ctx context.Context, rows []*AdCreative) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk insert: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, row := range rows {
		if row.ID == "" {
			row.ID = s.newID()
		}
		if row.CreatedAt == 0 {
			row.CreatedAt = now
		}
		if row.CreativeURLs == nil {
			row.CreativeURLs = []string{}
		}
		urls, err := json.Marshal(row.CreativeURLs)
		if err != nil {
			return inserted, fmt.Errorf("bulk insert: marshal urls: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO ads (id, account_id, competitor_id, platform, content_hash,
			ad_copy, cta, creative_urls, landing_url, fetched_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, competitor_id, platform, content_hash) DO NOTHING`,
			row.ID, row.AccountID, row.CompetitorID, row.Platform, row.ContentHash,
			row.AdCopy, row.CTA, string(urls), row.LandingURL, row.FetchedAt, row.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("bulk insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk insert: commit: %w", err)
	}
	return inserted, nil
}

// List returns one page of creatives matching the filter, ordered by
// (fetched_at DESC, id DESC). The composite ordering makes the cursor
// well-defined: rows inserted concurrently with a later fetched_at never
// appear behind an in-flight cursor, and fetched_at ties are broken by id.
func (s *Store) List(ctx context.Context, f ListFilter, cursor *Cursor, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 24
	}

	q := sq.Select(adColumns).
		From("ads").
		Where(sq.Eq{"account_id": f.AccountID})

	if f.CompetitorID != "" {
		q = q.Where(sq.Eq{"competitor_id": f.CompetitorID})
	}
	if f.Platform != "" {
		q = q.Where(sq.Eq{"platform": f.Platform})
	}
	if !f.DateFrom.IsZero() {
		q = q.Where(sq.GtOrEq{"fetched_at": f.DateFrom.UnixMilli()})
	}
	if !f.DateTo.IsZero() {
		q = q.Where(sq.LtOrEq{"fetched_at": f.DateTo.UnixMilli()})
	}
	if cursor != nil {
		q = q.Where(sq.Or{
			sq.Lt{"fetched_at": cursor.FetchedAt},
			sq.And{
				sq.Eq{"fetched_at": cursor.FetchedAt},
				sq.Lt{"id": cursor.ID},
			},
		})
	}

	// Over-fetch by one row to detect whether another page exists.
	q = q.OrderBy("fetched_at DESC", "id DESC").Limit(uint64(pageSize + 1))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list: build query: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var items []*AdCreative
	for rows.Next() {
		ad, err := scanAdRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	// Items is never nil: every serialization of a Page, HTTP or MCP,
	// must render an empty page as "items": [].
	if items == nil {
		items = []*AdCreative{}
	}
	page := &Page{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		last := page.Items[pageSize-1]
		page.NextCursor = EncodeCursor(Cursor{FetchedAt: last.FetchedAt, ID: last.ID})
	}
	return page, nil
}

// GetByID retrieves one creative, or nil if it does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*AdCreative, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+adColumns+` FROM ads WHERE id = ?`, id)
	return scanAd(row)
}

// PendingSnapshots returns up to limit creatives without a snapshot, most
// recently created first, skipping rows that already burned maxAttempts.
func (s *Store) PendingSnapshots(ctx context.Context, limit, maxAttempts int) ([]*AdCreative, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+adColumns+` FROM ads
		WHERE snapshot_url = '' AND snapshot_attempts < ?
		ORDER BY created_at DESC
		LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("pending snapshots: %w", err)
	}
	defer rows.Close()

	var out []*AdCreative
	for rows.Next() {
		ad, err := scanAdRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

// AttachSnapshot writes the snapshot fields onto a row. The row is mutated
// exactly once: a second attach on the same row is a no-op because the
// guard requires snapshot_url to still be empty.
func (s *Store) AttachSnapshot(ctx context.Context, id string, res SnapshotResult) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE ads SET snapshot_url=?, h1=?, h2=?, form_present=?, pixel_present=?
		WHERE id=? AND snapshot_url=''`,
		res.SnapshotURL, res.H1, res.H2, boolInt(res.FormPresent), boolInt(res.PixelPresent), id)
	if err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	return nil
}

// RecordSnapshotAttempt bumps the attempt counter for a row whose snapshot
// failed, so persistently broken landing pages drop out of the queue.
func (s *Store) RecordSnapshotAttempt(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE ads SET snapshot_attempts = snapshot_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("record snapshot attempt: %w", err)
	}
	return nil
}

// InsertCounterTask creates a follow-up task. Idempotent on (ad_id, title):
// a repeat insert returns the existing task.
func (s *Store) InsertCounterTask(ctx context.Context, task *CounterTask) (*CounterTask, error) {
	if task.ID == "" {
		task.ID = s.newID()
	}
	if task.Status == "" {
		task.Status = "open"
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().UnixMilli()
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO counter_tasks (id, ad_id, title, notes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ad_id, title) DO NOTHING`,
		task.ID, task.AdID, task.Title, task.Notes, task.Status, task.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert counter task: %w", err)
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT id, ad_id, title, notes, status, created_at
		FROM counter_tasks WHERE ad_id = ? AND title = ?`, task.AdID, task.Title)
	var got CounterTask
	if err := row.Scan(&got.ID, &got.AdID, &got.Title, &got.Notes, &got.Status, &got.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert counter task: read back: %w", err)
	}
	return &got, nil
}

// Stats returns aggregate counters for an account.
func (s *Store) Stats(ctx context.Context, accountID string) (*Stats, error) {
	st := &Stats{PerPlatform: make(map[string]int)}

	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN snapshot_url != '' THEN 1 ELSE 0 END), 0)
		FROM ads WHERE account_id = ?`, accountID).Scan(&st.TotalAds, &st.WithSnaps)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT platform, COUNT(*) FROM ads WHERE account_id = ? GROUP BY platform`, accountID)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var n int
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		st.PerPlatform[platform] = n
	}
	return st, rows.Err()
}

// InsertIngestLog records one coordinator pass outcome. Best-effort: the
// caller logs and moves on if it fails.
func (s *Store) InsertIngestLog(ctx context.Context, e *IngestLogEntry) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.RanAt == 0 {
		e.RanAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO ingest_log (id, account_id, competitor_id, platform, status,
		fetched, duplicates, inserted, error_message, duration_ms, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.CompetitorID, e.Platform, e.Status,
		e.Fetched, e.Duplicates, e.Inserted, e.ErrorMessage, e.DurationMs, e.RanAt)
	return err
}

func scanAd(row *sql.Row) (*AdCreative, error) {
	var ad AdCreative
	var urls string
	var form, pixel int
	err := row.Scan(
		&ad.ID, &ad.AccountID, &ad.CompetitorID, &ad.Platform, &ad.ContentHash,
		&ad.AdCopy, &ad.CTA, &urls, &ad.LandingURL, &ad.FetchedAt,
		&ad.SnapshotURL, &ad.H1, &ad.H2, &form, &pixel,
		&ad.SnapshotAttempts, &ad.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ad: %w", err)
	}
	finishAd(&ad, urls, form, pixel)
	return &ad, nil
}

func scanAdRows(rows *sql.Rows) (*AdCreative, error) {
	var ad AdCreative
	var urls string
	var form, pixel int
	err := rows.Scan(
		&ad.ID, &ad.AccountID, &ad.CompetitorID, &ad.Platform, &ad.ContentHash,
		&ad.AdCopy, &ad.CTA, &urls, &ad.LandingURL, &ad.FetchedAt,
		&ad.SnapshotURL, &ad.H1, &ad.H2, &form, &pixel,
		&ad.SnapshotAttempts, &ad.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ad: %w", err)
	}
	finishAd(&ad, urls, form, pixel)
	return &ad, nil
}

func finishAd(ad *AdCreative, urls string, form, pixel int) {
	ad.FormPresent = form != 0
	ad.PixelPresent = pixel != 0
	if urls != "" {
		json.Unmarshal([]byte(urls), &ad.CreativeURLs)
	}
	if ad.CreativeURLs == nil {
		ad.CreativeURLs = []string{}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
