// Package chunkstore caches encoded chunks in SQLite so that a program
// assembled once can be loaded again without re-assembling it.
package chunkstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cthuloops/clox/pkg/bytecode"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrChunkNotFound indicates the requested chunk doesn't exist
var ErrChunkNotFound = errors.New("chunk not found")

var log = commonlog.GetLogger("clox.chunkstore")

// Entry describes a stored chunk without decoding it.
type Entry struct {
	Name      string
	CodeLen   int
	Constants int
	SavedAt   time.Time
}

// Store handles SQLite storage for chunks
type Store struct {
	db           *sql.DB
	minConstants int
	mu           sync.Mutex
}

// Open opens (creating if needed) the chunk database at path. Loaded
// chunks rebuild their constant pools with the given growth base.
func Open(path string, minConstants int) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		code_len INTEGER NOT NULL,
		constants INTEGER NOT NULL,
		saved_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened chunk cache %s", path)
	return &Store{db: db, minConstants: minConstants}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save persists a chunk under name, replacing any previous entry.
func (s *Store) Save(name string, c *bytecode.Chunk) error {
	data, err := bytecode.MarshalChunk(c)
	if err != nil {
		return fmt.Errorf("encoding chunk %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO chunks (name, data, code_len, constants, saved_at) VALUES (?, ?, ?, ?, ?)",
		name, data, c.CodeLen(), c.ConstantCount(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving chunk: %w", err)
	}

	log.Debugf("saved chunk %s (%d bytes)", name, len(data))
	return nil
}

// Load retrieves a chunk from the database
func (s *Store) Load(name string) (*bytecode.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM chunks WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("querying chunk: %w", err)
	}

	c, err := bytecode.UnmarshalChunk(data, s.minConstants)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", name, err)
	}
	return c, nil
}

// Delete removes a chunk from the database
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM chunks WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting chunk: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChunkNotFound
	}
	return nil
}

// List returns every stored chunk ordered by name.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT name, code_len, constants, saved_at FROM chunks ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var savedAt int64
		if err := rows.Scan(&e.Name, &e.CodeLen, &e.Constants, &savedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		e.SavedAt = time.Unix(0, savedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SourceKey returns a stable cache name for program source text.
func SourceKey(src string) string {
	h := sha256.Sum256([]byte(src))
	return "src:" + hex.EncodeToString(h[:])
}
