package sqlite

import (
	"fmt"

	"github.com/ternarybob/prospect/internal/models"
)

const schemaSQL = `
-- Closed demographic category set. Extension is a schema change.
CREATE TABLE IF NOT EXISTS canonical_categories (
	code TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	sort_order INTEGER NOT NULL
);

-- Classification jobs. last_committed_batch is the durable resume watermark;
-- the partial unique index enforces at most one running job per source path.
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	source_fingerprint TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	batch_size INTEGER NOT NULL,
	last_committed_batch INTEGER NOT NULL DEFAULT -1,
	processed_rows INTEGER NOT NULL DEFAULT 0,
	failed_rows INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	llm_cost REAL NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_running_path
	ON jobs(source_path) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, started_at);

-- Exclusive per-path job locks, held for the job's lifetime.
CREATE TABLE IF NOT EXISTS job_locks (
	source_path TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	holder TEXT NOT NULL,
	acquired_at INTEGER NOT NULL
);

-- Per-row outcomes. Inserted batch-at-a-time in the same transaction that
-- advances the owning job's watermark.
CREATE TABLE IF NOT EXISTS lead_results (
	job_id TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	entity_name TEXT,
	director_name TEXT,
	address TEXT,
	city TEXT,
	province TEXT,
	category TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	method TEXT NOT NULL,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	provider TEXT,
	cost REAL NOT NULL DEFAULT 0,
	retries INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT,
	error_message TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (job_id, row_index)
);

-- LLM response cache and learning source, unique per normalized name.
CREATE TABLE IF NOT EXISTS llm_classifications (
	id TEXT NOT NULL,
	normalized_name TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	confidence REAL NOT NULL,
	provider TEXT NOT NULL,
	cost REAL NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	raw_response TEXT,
	soundex TEXT,
	phonex TEXT,
	dmetaphone_primary TEXT,
	dmetaphone_alt TEXT,
	nysiis TEXT,
	markers TEXT,
	features TEXT,
	session_id TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_llm_soundex ON llm_classifications(soundex);
CREATE INDEX IF NOT EXISTS idx_llm_phonex ON llm_classifications(phonex);

-- Learned patterns derived from LLM successes and confirmations.
CREATE TABLE IF NOT EXISTS learned_patterns (
	id TEXT NOT NULL,
	kind TEXT NOT NULL,
	value TEXT NOT NULL,
	category TEXT NOT NULL,
	confidence REAL NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 1,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	session_id TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (kind, value)
);

CREATE INDEX IF NOT EXISTS idx_patterns_category ON learned_patterns(category, active);

-- Phonetic code-tuple families with their majority category.
CREATE TABLE IF NOT EXISTS phonetic_families (
	code_key TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	confidence REAL NOT NULL,
	evidence INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);

-- Human confirmations keyed on the exported row identity.
CREATE TABLE IF NOT EXISTS confirmations (
	id TEXT NOT NULL,
	source_fingerprint TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	entity_name TEXT,
	director_name TEXT,
	suburb TEXT,
	city TEXT,
	province TEXT,
	spatial_context TEXT,
	predicted_category TEXT,
	predicted_confidence REAL NOT NULL DEFAULT 0,
	predicted_method TEXT,
	confirmed_category TEXT,
	confirmed_by TEXT,
	confirmed_at INTEGER,
	notes TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (source_fingerprint, row_index),
	FOREIGN KEY (confirmed_category) REFERENCES canonical_categories(code)
);
`

// migrate applies the schema and seeds the canonical category set.
func (s *SQLiteDB) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	for _, c := range models.CanonicalCategories {
		_, err := s.db.Exec(`
			INSERT INTO canonical_categories (code, display_name, sort_order)
			VALUES (?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET display_name = excluded.display_name, sort_order = excluded.sort_order
		`, string(c.Code), c.DisplayName, c.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to seed canonical category %s: %w", c.Code, err)
		}
	}

	return nil
}
