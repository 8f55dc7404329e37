package indexstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IndexSet is a named, durable, ordered set of composite keys with no
// payload. Existence checks and inclusive range scans are its only read
// operations; every entry embeds the backing entity id as its suffix.
type IndexSet struct {
	name  string
	table string
	run   runner
}

// Exists reports whether entry is present.
func (i *IndexSet) Exists(ctx context.Context, entry []byte) (bool, error) {
	var one int
	err := i.run.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE k = ?`, i.table), entry).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index %s exists: %w", i.name, err)
	}
	return true, nil
}

// Insert adds entry; inserting an existing entry is a no-op.
func (i *IndexSet) Insert(ctx context.Context, entry []byte) error {
	_, err := i.run.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (k) VALUES (?) ON CONFLICT(k) DO NOTHING`, i.table), entry)
	if err != nil {
		return fmt.Errorf("index %s insert: %w", i.name, err)
	}
	return nil
}

// Remove deletes entry; removing a missing entry is a no-op.
func (i *IndexSet) Remove(ctx context.Context, entry []byte) error {
	_, err := i.run.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, i.table), entry)
	if err != nil {
		return fmt.Errorf("index %s remove: %w", i.name, err)
	}
	return nil
}

// Scan returns, in order, every entry in the inclusive range [lo, hi].
// limit caps the result; limit <= 0 means unbounded.
func (i *IndexSet) Scan(ctx context.Context, lo, hi []byte, limit int) ([][]byte, error) {
	q := fmt.Sprintf(`SELECT k FROM %s WHERE k >= ? AND k <= ? ORDER BY k`, i.table)
	args := []any{lo, hi}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := i.run.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index %s scan: %w", i.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("index %s scan row: %w", i.name, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// All returns every entry in order.
func (i *IndexSet) All(ctx context.Context) ([][]byte, error) {
	rows, err := i.run.QueryContext(ctx,
		fmt.Sprintf(`SELECT k FROM %s ORDER BY k`, i.table))
	if err != nil {
		return nil, fmt.Errorf("index %s all: %w", i.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("index %s all row: %w", i.name, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
