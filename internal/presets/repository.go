package presets

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Pair matches db.Pair; taken as an interface for test injection.
type Pair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles preset persistence. Reads go to the reader pool,
// writes to the single writer connection.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

func NewRepository(pair Pair) *Repository {
	return &Repository{reader: pair.Reader(), writer: pair.Writer()}
}

// Save inserts or replaces a preset by name.
func (r *Repository) Save(preset Preset) error {
	definition, err := json.Marshal(preset)
	if err != nil {
		return err
	}
	now := nowISO()
	_, err = r.writer.Exec(`
		INSERT INTO presets (name, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at
	`, preset.Name, string(definition), now, now)
	return err
}

// GetByName returns a preset, or nil when absent.
func (r *Repository) GetByName(name string) (*Preset, error) {
	row := r.reader.QueryRow(`
		SELECT definition, created_at, updated_at FROM presets WHERE name = ? COLLATE NOCASE
	`, name)

	var definition, createdAt, updatedAt string
	if err := row.Scan(&definition, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return parsePreset(definition, createdAt, updatedAt)
}

// List returns all presets ordered by name.
func (r *Repository) List() ([]Preset, error) {
	rows, err := r.reader.Query(`
		SELECT definition, created_at, updated_at FROM presets ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	presets := []Preset{}
	for rows.Next() {
		var definition, createdAt, updatedAt string
		if err := rows.Scan(&definition, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		preset, err := parsePreset(definition, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		presets = append(presets, *preset)
	}
	return presets, rows.Err()
}

// Delete removes a preset; sql.ErrNoRows when it was absent.
func (r *Repository) Delete(name string) error {
	result, err := r.writer.Exec("DELETE FROM presets WHERE name = ? COLLATE NOCASE", name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordRun inserts a started run and returns its id.
func (r *Repository) RecordRun(presetName string) (string, error) {
	runID := uuid.New().String()
	_, err := r.writer.Exec(`
		INSERT INTO preset_runs (run_id, preset_name, status, started_at)
		VALUES (?, ?, ?, ?)
	`, runID, presetName, string(RunStarted), nowISO())
	return runID, err
}

// CompleteRun records the outcome of a run.
func (r *Repository) CompleteRun(runID string, status RunStatus, runErr error) error {
	var message *string
	if runErr != nil {
		s := runErr.Error()
		message = &s
	}
	_, err := r.writer.Exec(`
		UPDATE preset_runs SET status = ?, error = ?, ended_at = ? WHERE run_id = ?
	`, string(status), message, nowISO(), runID)
	return err
}

// RecentRuns lists the latest runs of one preset.
func (r *Repository) RecentRuns(presetName string, limit int) ([]Run, error) {
	rows, err := r.reader.Query(`
		SELECT run_id, preset_name, status, error, started_at, ended_at
		FROM preset_runs
		WHERE preset_name = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, presetName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		var errMsg sql.NullString
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&run.RunID, &run.PresetName, (*string)(&run.Status), &errMsg, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		run.StartedAt = parseTime(startedAt)
		if endedAt.Valid {
			t := parseTime(endedAt.String)
			run.EndedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func parsePreset(definition, createdAt, updatedAt string) (*Preset, error) {
	var preset Preset
	if err := json.Unmarshal([]byte(definition), &preset); err != nil {
		return nil, err
	}
	preset.CreatedAt = parseTime(createdAt)
	preset.UpdatedAt = parseTime(updatedAt)
	return &preset, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
