package indexstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Entry is one ordered key/value pair of a Map.
type Entry struct {
	Key   []byte
	Value []byte
}

// Map is a named, durable, ordered key→value map. Values are opaque byte
// payloads (JSON documents in practice, so older records default-fill new
// optional fields on decode).
type Map struct {
	name  string
	table string
	run   runner
	cache *Cache
}

// WithCache attaches a non-authoritative read cache. Writes invalidate;
// only Get populates. The backing table stays the sole source of truth.
func (m *Map) WithCache(c *Cache) *Map {
	m.cache = c
	return m
}

// Get returns the value for key and whether it exists.
func (m *Map) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if m.cache != nil {
		if v, ok := m.cache.Get(key); ok {
			return v, true, nil
		}
	}
	var v []byte
	err := m.run.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, m.table), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("map %s get: %w", m.name, err)
	}
	if m.cache != nil {
		m.cache.Put(key, v)
	}
	return v, true, nil
}

// Insert upserts key→value and returns the previous value, if any.
func (m *Map) Insert(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	if m.cache != nil {
		m.cache.Delete(key)
	}
	var prev []byte
	hadPrev := true
	err := m.run.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, m.table), key).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		hadPrev = false
	} else if err != nil {
		return nil, false, fmt.Errorf("map %s insert lookup: %w", m.name, err)
	}
	_, err = m.run.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, m.table),
		key, value)
	if err != nil {
		return nil, false, fmt.Errorf("map %s insert: %w", m.name, err)
	}
	return prev, hadPrev, nil
}

// Remove deletes key and returns the removed value, if any.
func (m *Map) Remove(ctx context.Context, key []byte) ([]byte, bool, error) {
	if m.cache != nil {
		m.cache.Delete(key)
	}
	var prev []byte
	err := m.run.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, m.table), key).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("map %s remove lookup: %w", m.name, err)
	}
	if _, err := m.run.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, m.table), key); err != nil {
		return nil, false, fmt.Errorf("map %s remove: %w", m.name, err)
	}
	return prev, true, nil
}

// List returns every entry in key order.
func (m *Map) List(ctx context.Context) ([]Entry, error) {
	rows, err := m.run.QueryContext(ctx,
		fmt.Sprintf(`SELECT k, v FROM %s ORDER BY k`, m.table))
	if err != nil {
		return nil, fmt.Errorf("map %s list: %w", m.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("map %s list scan: %w", m.name, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len returns the number of entries.
func (m *Map) Len(ctx context.Context) (int, error) {
	var n int
	err := m.run.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, m.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("map %s len: %w", m.name, err)
	}
	return n, nil
}
