package catalog

import "database/sql"

// Schema is the complete catalog schema.
//
// The UNIQUE index on (account_id, competitor_id, platform, content_hash)
// is the authoritative dedup guarantee: the kv claim window is a same-cycle
// optimization only, so cross-cycle re-observations of a creative land here
// and are skipped by the conflict clause in BulkInsert.
const Schema = `
-- Stored ad creatives
CREATE TABLE IF NOT EXISTS ads (
    id                TEXT PRIMARY KEY,
    account_id        TEXT NOT NULL,
    competitor_id     TEXT NOT NULL,
    platform          TEXT NOT NULL,
    content_hash      TEXT NOT NULL,
    ad_copy           TEXT NOT NULL DEFAULT '',
    cta               TEXT NOT NULL DEFAULT '',
    creative_urls     TEXT NOT NULL DEFAULT '[]',
    landing_url       TEXT NOT NULL DEFAULT '',
    fetched_at        INTEGER NOT NULL,
    snapshot_url      TEXT NOT NULL DEFAULT '',
    h1                TEXT NOT NULL DEFAULT '',
    h2                TEXT NOT NULL DEFAULT '',
    form_present      INTEGER NOT NULL DEFAULT 0,
    pixel_present     INTEGER NOT NULL DEFAULT 0,
    snapshot_attempts INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ads_dedup
    ON ads(account_id, competitor_id, platform, content_hash);
CREATE INDEX IF NOT EXISTS idx_ads_scan
    ON ads(account_id, fetched_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_ads_pending_snapshot
    ON ads(snapshot_url, created_at DESC) WHERE snapshot_url = '';

-- Follow-up tasks, idempotent on (ad_id, title)
CREATE TABLE IF NOT EXISTS counter_tasks (
    id         TEXT PRIMARY KEY,
    ad_id      TEXT NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
    title      TEXT NOT NULL,
    notes      TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'open',
    created_at INTEGER NOT NULL,
    UNIQUE (ad_id, title)
);

-- One row per coordinator pass per competitor (observability)
CREATE TABLE IF NOT EXISTS ingest_log (
    id            TEXT PRIMARY KEY,
    account_id    TEXT NOT NULL,
    competitor_id TEXT NOT NULL,
    platform      TEXT NOT NULL,
    status        TEXT NOT NULL,
    fetched       INTEGER NOT NULL DEFAULT 0,
    duplicates    INTEGER NOT NULL DEFAULT 0,
    inserted      INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    ran_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_log_time ON ingest_log(ran_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
