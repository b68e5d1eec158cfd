// Package sqlite provides a SQLite-backed memory store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/memory"
)

// Store implements memory.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a SQLite-backed memory store. The dbPath can be a file
// path or ":memory:" for an in-memory database.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", memory.ErrConnection, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite memory store initialized",
		zap.String("db_path", dbPath),
	)

	return &Store{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category_name TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			embedding_status TEXT NOT NULL DEFAULT 'pending',
			anchors TEXT NOT NULL DEFAULT '{}',
			fingerprint TEXT,
			importance REAL NOT NULL DEFAULT 0,
			is_current INTEGER NOT NULL DEFAULT 1,
			superseded_by TEXT,
			explicit_recall INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		// Enforces the single-chain invariant at the storage level: at most
		// one current memory per (owner, fingerprint).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_owner_fp_current
			ON memories(owner_id, fingerprint)
			WHERE is_current = 1 AND fingerprint IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_current_created
			ON memories(owner_id, is_current, created_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}

	return nil
}

const memoryColumns = `id, owner_id, content, category_name, embedding, embedding_status,
	anchors, fingerprint, importance, is_current, superseded_by, explicit_recall,
	token_count, created_at`

// Insert stores a new independent memory.
func (s *Store) Insert(ctx context.Context, m *memory.Memory) error {
	return s.insert(ctx, s.db, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, m *memory.Memory) error {
	anchorsJSON, err := json.Marshal(m.Anchors)
	if err != nil {
		return fmt.Errorf("encoding anchors: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.OwnerID, m.Content, m.CategoryName,
		serializeEmbedding(m.Embedding), string(m.EmbeddingStatus),
		string(anchorsJSON), nullable(m.Fingerprint), m.Importance,
		boolInt(m.IsCurrent), nullable(m.SupersededBy), boolInt(m.ExplicitRecall),
		m.TokenCount, m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting memory %s: %w", m.ID, err)
	}

	return nil
}

// InsertSuperseding atomically supersedes oldID with m.
func (s *Store) InsertSuperseding(ctx context.Context, m *memory.Memory, oldID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Guarded on is_current so a concurrent writer that got there first
	// surfaces as a lost race, not a double-supersede.
	res, err := tx.ExecContext(ctx, `
		UPDATE memories
		SET is_current = 0, superseded_by = ?
		WHERE id = ? AND owner_id = ? AND is_current = 1
	`, m.ID, oldID, m.OwnerID)
	if err != nil {
		return fmt.Errorf("marking %s superseded: %w", oldID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking supersede result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", memory.ErrSuperseded, oldID)
	}

	if err := s.insert(ctx, tx, m); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing supersession: %w", err)
	}

	s.logger.Debug("memory superseded",
		zap.String("old_id", oldID),
		zap.String("new_id", m.ID),
	)

	return nil
}

// Get retrieves one memory by owner and id.
func (s *Store) Get(ctx context.Context, ownerID, id string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories WHERE owner_id = ? AND id = ?
	`, ownerID, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return m, err
}

// FindCurrentByFingerprint returns the single current memory holding the fingerprint.
func (s *Store) FindCurrentByFingerprint(ctx context.Context, ownerID, fingerprint string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE owner_id = ? AND fingerprint = ? AND is_current = 1
	`, ownerID, fingerprint)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: fingerprint %s", memory.ErrNotFound, fingerprint)
	}
	return m, err
}

// Recent returns the owner's newest memories, current or not.
func (s *Store) Recent(ctx context.Context, ownerID string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, ownerID, limit)
}

// Current returns current memories, newest first, optionally category-scoped.
func (s *Store) Current(ctx context.Context, ownerID, category string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 500
	}

	if category != "" {
		return s.query(ctx, `
			SELECT `+memoryColumns+` FROM memories
			WHERE owner_id = ? AND is_current = 1 AND category_name = ?
			ORDER BY created_at DESC
			LIMIT ?
		`, ownerID, category, limit)
	}

	return s.query(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE owner_id = ? AND is_current = 1
		ORDER BY created_at DESC
		LIMIT ?
	`, ownerID, limit)
}

// CurrentByCategories returns current memories in any of the given categories.
func (s *Store) CurrentByCategories(ctx context.Context, ownerID string, categories []string, limit int) ([]*memory.Memory, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	placeholders := make([]string, len(categories))
	args := []any{ownerID}
	for i, c := range categories {
		placeholders[i] = "?"
		args = append(args, c)
	}
	args = append(args, limit)

	return s.query(ctx, fmt.Sprintf(`
		SELECT `+memoryColumns+` FROM memories
		WHERE owner_id = ? AND is_current = 1 AND category_name IN (%s)
		ORDER BY created_at DESC
		LIMIT ?
	`, strings.Join(placeholders, ",")), args...)
}

// SetEmbedding records the async embedding result. Succeeds even when the
// memory has been superseded in the meantime; a missing row is ErrNotFound.
func (s *Store) SetEmbedding(ctx context.Context, ownerID, id string, embedding []float32, status memory.EmbeddingStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET embedding = ?, embedding_status = ?
		WHERE owner_id = ? AND id = ?
	`, serializeEmbedding(embedding), string(status), ownerID, id)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking embedding update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}

	return nil
}

// Stats summarizes the owner's memory population.
func (s *Store) Stats(ctx context.Context, ownerID string) (memory.Stats, error) {
	var st memory.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(is_current), 0),
			COALESCE(SUM(1 - is_current), 0),
			COALESCE(SUM(CASE WHEN embedding_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN embedding_status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM memories WHERE owner_id = ?
	`, ownerID).Scan(&st.Total, &st.Current, &st.Superseded, &st.PendingEmbeddings, &st.FailedEmbeddings)
	if err != nil {
		return memory.Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var (
		m            memory.Memory
		embBlob      []byte
		status       string
		anchorsJSON  string
		fingerprint  sql.NullString
		isCurrent    int
		supersededBy sql.NullString
		explicit     int
		createdAt    string
	)

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Content, &m.CategoryName, &embBlob, &status,
		&anchorsJSON, &fingerprint, &m.Importance, &isCurrent, &supersededBy,
		&explicit, &m.TokenCount, &createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning memory: %w", err)
	}

	m.Embedding = deserializeEmbedding(embBlob)
	m.EmbeddingStatus = memory.EmbeddingStatus(status)
	m.Fingerprint = fingerprint.String
	m.IsCurrent = isCurrent == 1
	m.SupersededBy = supersededBy.String
	m.ExplicitRecall = explicit == 1

	if err := json.Unmarshal([]byte(anchorsJSON), &m.Anchors); err != nil {
		return nil, fmt.Errorf("decoding anchors for %s: %w", m.ID, err)
	}

	m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", m.ID, err)
	}

	return &m, nil
}

// serializeEmbedding converts a float32 slice to a little-endian byte slice.
// Nil embeddings map to NULL.
func serializeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure Store implements memory.Store
var _ memory.Store = (*Store)(nil)
