// Package db owns the SQLite connection pair used by the preset store.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Pair holds separate read and write connections. With WAL mode readers do
// not block the writer; a single writer connection serializes writes.
type Pair struct {
	reader *sql.DB
	writer *sql.DB
}

func (p *Pair) Reader() *sql.DB { return p.reader }
func (p *Pair) Writer() *sql.DB { return p.writer }

func (p *Pair) Close() error {
	var errs []error
	if err := p.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Init opens the database, applies the schema, and returns the pair.
func Init(dbPath string) (*Pair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	writer, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000&cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	reader, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000&cache=shared&mode=ro")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec(schemaSQL); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Pair{reader: reader, writer: writer}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
