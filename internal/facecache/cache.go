// Package facecache persists face embeddings between runs so gallery
// images are only sent to the embedding service when their content
// changes. The cache lives inside the gallery root and is disposable:
// deleting the file just means the next search re-embeds everything.
package facecache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	path        TEXT PRIMARY KEY,
	size        INTEGER NOT NULL,
	mtime_ns    INTEGER NOT NULL,
	model       TEXT NOT NULL,
	faces_count INTEGER NOT NULL,
	indexed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS faces (
	image_path TEXT NOT NULL REFERENCES images(path) ON DELETE CASCADE,
	face_index INTEGER NOT NULL,
	embedding  BLOB NOT NULL,
	bbox       TEXT NOT NULL DEFAULT '',
	det_score  REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (image_path, face_index)
);
`

// Face is a single cached face embedding.
type Face struct {
	FaceIndex int
	Embedding []float32
	BBox      string // JSON-encoded box, empty when the service sent none
	DetScore  float64
}

// Entry is one cached image with all faces found in it. Size, ModTimeNS
// and Model identify the content and embedding model the faces came from;
// a lookup with different values is a miss.
type Entry struct {
	Path      string
	Size      int64
	ModTimeNS int64
	Model     string
	Faces     []Face
}

// Cache is a SQLite-backed embedding cache.
type Cache struct {
	db *sql.DB
}

// Open initializes or connects to the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	cache := &Cache{db: db}
	if err := cache.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) initSchema(ctx context.Context) error {
	var tableExists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return c.createSchema(ctx)
	}

	var version int
	err = c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		// cached embeddings are derived data, start over
		return c.reset(ctx)
	}
	return nil
}

func (c *Cache) createSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

func (c *Cache) reset(ctx context.Context) error {
	drops := []string{
		"DROP TABLE IF EXISTS faces",
		"DROP TABLE IF EXISTS images",
		"DROP TABLE IF EXISTS schema_version",
	}
	for _, stmt := range drops {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset cache: %w", err)
		}
	}
	return c.createSchema(ctx)
}

// Lookup returns the cached faces for an image. The second return value
// is false when the image is unknown or its stored size, mtime or model
// no longer match. A cached image with zero faces is a valid hit.
func (c *Cache) Lookup(ctx context.Context, path string, size, mtimeNS int64, model string) ([]Face, bool, error) {
	var (
		storedSize  int64
		storedMtime int64
		storedModel string
		facesCount  int
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT size, mtime_ns, model, faces_count FROM images WHERE path = ?", path,
	).Scan(&storedSize, &storedMtime, &storedModel, &facesCount)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", path, err)
	}
	if storedSize != size || storedMtime != mtimeNS || storedModel != model {
		return nil, false, nil
	}
	if facesCount == 0 {
		return nil, true, nil
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT face_index, embedding, bbox, det_score FROM faces WHERE image_path = ? ORDER BY face_index", path,
	)
	if err != nil {
		return nil, false, fmt.Errorf("load faces for %s: %w", path, err)
	}
	defer rows.Close()

	var faces []Face
	for rows.Next() {
		var (
			face Face
			blob []byte
		)
		if err := rows.Scan(&face.FaceIndex, &blob, &face.BBox, &face.DetScore); err != nil {
			return nil, false, fmt.Errorf("scan face row: %w", err)
		}
		face.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, false, fmt.Errorf("decode embedding for %s: %w", path, err)
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate faces for %s: %w", path, err)
	}
	return faces, true, nil
}

// Store replaces the cached faces for an image.
func (c *Cache) Store(ctx context.Context, entry Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// REPLACE deletes any previous row, cascading old face rows away
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (path, size, mtime_ns, model, faces_count, indexed_at) VALUES (?, ?, ?, ?, ?, ?)",
		entry.Path, entry.Size, entry.ModTimeNS, entry.Model, len(entry.Faces),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store image row for %s: %w", entry.Path, err)
	}

	for _, face := range entry.Faces {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO faces (image_path, face_index, embedding, bbox, det_score) VALUES (?, ?, ?, ?, ?)",
			entry.Path, face.FaceIndex, encodeEmbedding(face.Embedding), face.BBox, face.DetScore,
		)
		if err != nil {
			return fmt.Errorf("store face %d for %s: %w", face.FaceIndex, entry.Path, err)
		}
	}
	return tx.Commit()
}

// Prune removes cache rows for images not present in keep and reports how
// many were dropped.
func (c *Cache) Prune(ctx context.Context, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, path := range keep {
		keepSet[path] = true
	}

	rows, err := c.db.QueryContext(ctx, "SELECT path FROM images")
	if err != nil {
		return 0, fmt.Errorf("list cached images: %w", err)
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan cached path: %w", err)
		}
		if !keepSet[path] {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate cached paths: %w", err)
	}
	rows.Close()

	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, path := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM images WHERE path = ?", path); err != nil {
			return 0, fmt.Errorf("prune %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
