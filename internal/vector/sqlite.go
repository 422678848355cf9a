package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docrag/internal/models"
)

// SQLiteBackend is a persistent single-node Backend. Vectors are stored as
// little-endian float32 blobs and searched by brute force.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// In-memory databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		metric TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS points (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		document_path TEXT NOT NULL,
		document_name TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_points_document ON points(collection, document_id);
	`
	_, err := db.Exec(schema)
	return err
}

// DescribeCollection implements Backend.
func (s *SQLiteBackend) DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	dims, err := s.dimensions(ctx, name)
	if err != nil {
		return nil, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, name).Scan(&n); err != nil {
		return nil, err
	}
	return &CollectionInfo{Name: name, Dimensions: dims, Points: n}, nil
}

// CreateCollection implements Backend.
func (s *SQLiteBackend) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	metric := spec.Metric
	if metric == "" {
		metric = MetricCosine
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, dimensions, metric) VALUES (?, ?, ?)`,
		spec.Name, spec.Dimensions, string(metric),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionExists, spec.Name)
	}
	return nil
}

// Upsert implements Backend. The batch is written in one transaction.
func (s *SQLiteBackend) Upsert(ctx context.Context, collection string, points []*models.IndexedPoint) error {
	dims, err := s.dimensions(ctx, collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != dims {
			return fmt.Errorf("%w: point %s has %d, expected %d", ErrDimensionMismatch, p.ID, len(p.Vector), dims)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (collection, id, document_id, document_path, document_name, chunk_index, text, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
		   document_id = excluded.document_id,
		   document_path = excluded.document_path,
		   document_name = excluded.document_name,
		   chunk_index = excluded.chunk_index,
		   text = excluded.text,
		   vector = excluded.vector`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		pl := p.Payload
		if _, err := stmt.ExecContext(ctx, collection, p.ID, pl.DocumentID, pl.DocumentPath, pl.DocumentName,
			pl.ChunkIndex, pl.Text, float32SliceToBytes(p.Vector)); err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Scroll implements Backend. Points are ordered by ID.
func (s *SQLiteBackend) Scroll(ctx context.Context, collection string, req ScrollRequest) (*ScrollPage, error) {
	if _, err := s.dimensions(ctx, collection); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	query := `SELECT id, document_id, document_path, document_name, chunk_index, text
		FROM points WHERE collection = ? AND id >= ?`
	args := []any{collection, req.Offset}
	if req.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, req.DocumentID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &ScrollPage{}
	for rows.Next() {
		var rec PointRecord
		pl := &rec.Payload
		if err := rows.Scan(&rec.ID, &pl.DocumentID, &pl.DocumentPath, &pl.DocumentName, &pl.ChunkIndex, &pl.Text); err != nil {
			return nil, err
		}
		if len(page.Points) == limit {
			page.NextOffset = rec.ID
			break
		}
		page.Points = append(page.Points, rec)
	}
	return page, rows.Err()
}

// Delete implements Backend. Unknown IDs are ignored.
func (s *SQLiteBackend) Delete(ctx context.Context, collection string, ids []string) error {
	if _, err := s.dimensions(ctx, collection); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM points WHERE collection = ? AND id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, collection, id); err != nil {
			return fmt.Errorf("failed to delete point %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Query implements Backend.
func (s *SQLiteBackend) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*models.ScoredPoint, error) {
	dims, err := s.dimensions(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dims {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(vector), dims)
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, document_path, document_name, chunk_index, text, vector
		 FROM points WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*models.ScoredPoint
	for rows.Next() {
		hit := &models.ScoredPoint{}
		pl := &hit.Payload
		var blob []byte
		if err := rows.Scan(&hit.ID, &pl.DocumentID, &pl.DocumentPath, &pl.DocumentName, &pl.ChunkIndex, &pl.Text, &blob); err != nil {
			return nil, err
		}
		hit.Score = Cosine(vector, bytesToFloat32Slice(blob))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByScore(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) dimensions(ctx context.Context, collection string) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM collections WHERE name = ?`, collection).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return dims, err
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
