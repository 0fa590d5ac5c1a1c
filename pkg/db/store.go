package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// maxQueryParams keeps IN (...) lists below SQLite's host parameter limit.
const maxQueryParams = 500

// GetKanji returns the record for code point c, or nil if it is not stored.
func GetKanji(ctx context.Context, db DBExecutor, c int) (*KanjiRecord, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT data FROM kanji WHERE c = ?`, c).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query kanji %d: %w", c, err)
	}
	var rec KanjiRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode kanji %d: %w", c, err)
	}
	return &rec, nil
}

// BulkGetKanji looks up several code points at once. The result is aligned
// with cs; missing records are nil.
func BulkGetKanji(ctx context.Context, db DBExecutor, cs []int) ([]*KanjiRecord, error) {
	found := make(map[int]*KanjiRecord, len(cs))
	err := bulkSelect(ctx, db, `SELECT data FROM kanji WHERE c IN (%s)`, toAny(cs), func(data string) error {
		var rec KanjiRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return fmt.Errorf("decode kanji: %w", err)
		}
		found[rec.C] = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*KanjiRecord, len(cs))
	for i, c := range cs {
		out[i] = found[c]
	}
	return out, nil
}

// PutKanji inserts or replaces records.
func PutKanji(ctx context.Context, db DBExecutor, records []KanjiRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := db.PrepareContext(ctx, `INSERT OR REPLACE INTO kanji (c, data) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare kanji insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode kanji %d: %w", rec.C, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.C, string(data)); err != nil {
			return fmt.Errorf("put kanji %d: %w", rec.C, err)
		}
	}
	return nil
}

// DeleteKanji removes the records for the given code points.
func DeleteKanji(ctx context.Context, db DBExecutor, cs []int) error {
	return bulkExec(ctx, db, `DELETE FROM kanji WHERE c IN (%s)`, toAny(cs))
}

// ClearKanji removes every kanji record.
func ClearKanji(ctx context.Context, db DBExecutor) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM kanji`); err != nil {
		return fmt.Errorf("clear kanji: %w", err)
	}
	return nil
}

// CountKanji returns the number of stored kanji records.
func CountKanji(ctx context.Context, db DBExecutor) (int, error) {
	return count(ctx, db, "kanji")
}

// GetRadical returns the radical with the given id, or nil if it is not stored.
func GetRadical(ctx context.Context, db DBExecutor, id string) (*RadicalRecord, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT data FROM radicals WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query radical %s: %w", id, err)
	}
	var rec RadicalRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode radical %s: %w", id, err)
	}
	return &rec, nil
}

// BulkGetRadicals looks up several radicals at once. The result is aligned
// with ids; missing records are nil.
func BulkGetRadicals(ctx context.Context, db DBExecutor, ids []string) ([]*RadicalRecord, error) {
	found := make(map[string]*RadicalRecord, len(ids))
	err := bulkSelect(ctx, db, `SELECT data FROM radicals WHERE id IN (%s)`, toAny(ids), func(data string) error {
		var rec RadicalRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return fmt.Errorf("decode radical: %w", err)
		}
		found[rec.ID] = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*RadicalRecord, len(ids))
	for i, id := range ids {
		out[i] = found[id]
	}
	return out, nil
}

// PutRadicals inserts or replaces records.
func PutRadicals(ctx context.Context, db DBExecutor, records []RadicalRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := db.PrepareContext(ctx, `INSERT OR REPLACE INTO radicals (id, data) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare radical insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode radical %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, string(data)); err != nil {
			return fmt.Errorf("put radical %s: %w", rec.ID, err)
		}
	}
	return nil
}

// DeleteRadicals removes the radicals with the given ids.
func DeleteRadicals(ctx context.Context, db DBExecutor, ids []string) error {
	return bulkExec(ctx, db, `DELETE FROM radicals WHERE id IN (%s)`, toAny(ids))
}

// ClearRadicals removes every radical record.
func ClearRadicals(ctx context.Context, db DBExecutor) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM radicals`); err != nil {
		return fmt.Errorf("clear radicals: %w", err)
	}
	return nil
}

// CountRadicals returns the number of stored radical records.
func CountRadicals(ctx context.Context, db DBExecutor) (int, error) {
	return count(ctx, db, "radicals")
}

// GetVersion returns the stored version of a dataset, or nil if the dataset
// has never been downloaded.
func GetVersion(ctx context.Context, db DBExecutor, id VersionID) (*DatabaseVersion, error) {
	var v DatabaseVersion
	err := db.QueryRowContext(ctx,
		`SELECT major, minor, patch, database_version, date_of_creation, lang FROM versions WHERE id = ?`, id,
	).Scan(&v.Major, &v.Minor, &v.Patch, &v.DatabaseVersion, &v.DateOfCreation, &v.Lang)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query version %d: %w", id, err)
	}
	return &v, nil
}

// PutVersion writes the version row of a dataset.
func PutVersion(ctx context.Context, db DBExecutor, id VersionID, v DatabaseVersion) error {
	_, err := db.ExecContext(ctx, `INSERT INTO versions (id, major, minor, patch, database_version, date_of_creation, lang)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  major = excluded.major,
		  minor = excluded.minor,
		  patch = excluded.patch,
		  database_version = excluded.database_version,
		  date_of_creation = excluded.date_of_creation,
		  lang = excluded.lang`,
		id, v.Major, v.Minor, v.Patch, v.DatabaseVersion, v.DateOfCreation, v.Lang)
	if err != nil {
		return fmt.Errorf("put version %d: %w", id, err)
	}
	return nil
}

// CommitKanjiVersion finalizes a kanji version in one transaction: a full
// version replaces the whole table, a partial one applies its deletions first.
func (s *Store) CommitKanjiVersion(ctx context.Context, v DatabaseVersion, full bool, deletes []int, puts []KanjiRecord) error {
	return s.RunInTx(ctx, func(tx *sql.Tx) error {
		if full {
			if err := ClearKanji(ctx, tx); err != nil {
				return err
			}
		} else if err := DeleteKanji(ctx, tx, deletes); err != nil {
			return err
		}
		if err := PutKanji(ctx, tx, puts); err != nil {
			return err
		}
		return PutVersion(ctx, tx, KanjiVersionID, v)
	})
}

// CommitRadicalVersion is CommitKanjiVersion for the radicals table.
func (s *Store) CommitRadicalVersion(ctx context.Context, v DatabaseVersion, full bool, deletes []string, puts []RadicalRecord) error {
	return s.RunInTx(ctx, func(tx *sql.Tx) error {
		if full {
			if err := ClearRadicals(ctx, tx); err != nil {
				return err
			}
		} else if err := DeleteRadicals(ctx, tx, deletes); err != nil {
			return err
		}
		if err := PutRadicals(ctx, tx, puts); err != nil {
			return err
		}
		return PutVersion(ctx, tx, RadicalVersionID, v)
	})
}

func count(ctx context.Context, db DBExecutor, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func bulkSelect(ctx context.Context, db DBExecutor, query string, keys []any, scan func(data string) error) error {
	for start := 0; start < len(keys); start += maxQueryParams {
		chunk := keys[start:min(start+maxQueryParams, len(keys))]
		rows, err := db.QueryContext(ctx, fmt.Sprintf(query, placeholders(len(chunk))), chunk...)
		if err != nil {
			return fmt.Errorf("bulk query: %w", err)
		}
		for rows.Next() {
			var data string
			if err := rows.Scan(&data); err != nil {
				rows.Close()
				return fmt.Errorf("scan row: %w", err)
			}
			if err := scan(data); err != nil {
				rows.Close()
				return err
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate rows: %w", err)
		}
	}
	return nil
}

func bulkExec(ctx context.Context, db DBExecutor, query string, keys []any) error {
	for start := 0; start < len(keys); start += maxQueryParams {
		chunk := keys[start:min(start+maxQueryParams, len(keys))]
		if _, err := db.ExecContext(ctx, fmt.Sprintf(query, placeholders(len(chunk))), chunk...); err != nil {
			return fmt.Errorf("bulk exec: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
