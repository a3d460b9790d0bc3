package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/state"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// marshalText encodes v as JSON TEXT with HTML escaping disabled.
func marshalText(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func putMeta(db execer, key string, v any) error {
	text, err := marshalText(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, text)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// getMeta decodes the snapshot stored under key into v. found is false
// when there is no such row.
func getMeta(db queryer, key string, v any) (bool, error) {
	var text string
	err := db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func unmarshalOperation(text string) (ir.Operation, error) {
	var op ir.Operation
	if err := json.Unmarshal([]byte(text), &op); err != nil {
		return ir.Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	return op, nil
}

func unmarshalTransition(text string) (state.Transition, error) {
	var tr state.Transition
	if err := json.Unmarshal([]byte(text), &tr); err != nil {
		return state.Transition{}, fmt.Errorf("decode transition: %w", err)
	}
	if tr.Destroyed == nil {
		tr.Destroyed = make(map[ir.CellAddr]ir.StateCell)
	}
	return tr, nil
}
