package update

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/japaniel/kanjidb/pkg/db"
	"github.com/japaniel/kanjidb/pkg/download"
)

// Storage target keys.
const (
	KanjiKey   = "kanji"
	RadicalKey = "radicals"
)

// KanjiTarget writes kanji versions to store, tagging them with lang.
func KanjiTarget(store *db.Store, lang string) Target[download.KanjiEntryLine, download.KanjiDeletionLine, db.KanjiRecord] {
	return Target[download.KanjiEntryLine, download.KanjiDeletionLine, db.KanjiRecord]{
		Key:      KanjiKey,
		ToRecord: KanjiRecord,
		Commit: func(ctx context.Context, b Batch[download.KanjiDeletionLine, db.KanjiRecord]) error {
			deletes := make([]int, 0, len(b.Deletions))
			for _, d := range b.Deletions {
				c, err := codePoint(d.C)
				if err != nil {
					return err
				}
				deletes = append(deletes, c)
			}
			return store.CommitKanjiVersion(ctx, dbVersion(b.Version, lang), b.Full, deletes, b.Records)
		},
	}
}

// RadicalTarget writes radical versions to store, tagging them with lang.
func RadicalTarget(store *db.Store, lang string) Target[download.RadicalEntryLine, download.RadicalDeletionLine, db.RadicalRecord] {
	return Target[download.RadicalEntryLine, download.RadicalDeletionLine, db.RadicalRecord]{
		Key:      RadicalKey,
		ToRecord: RadicalRecord,
		Commit: func(ctx context.Context, b Batch[download.RadicalDeletionLine, db.RadicalRecord]) error {
			deletes := make([]string, 0, len(b.Deletions))
			for _, d := range b.Deletions {
				deletes = append(deletes, d.ID)
			}
			return store.CommitRadicalVersion(ctx, dbVersion(b.Version, lang), b.Full, deletes, b.Records)
		},
	}
}

// KanjiRecord converts a kanji line to its stored form, keyed by code point.
func KanjiRecord(e download.KanjiEntryLine) (db.KanjiRecord, error) {
	c, err := codePoint(e.C)
	if err != nil {
		return db.KanjiRecord{}, err
	}
	rec := db.KanjiRecord{
		C:     c,
		R:     e.R,
		M:     e.M,
		MLang: e.MLang,
		Rad:   e.Rad,
		Refs:  e.Refs,
		Misc:  e.Misc,
		Comp:  e.Comp,
		Var:   e.Var,
		Cf:    e.Cf,
	}
	if rec.M == nil {
		rec.M = []string{}
	}
	if rec.Refs == nil {
		rec.Refs = map[string]any{}
	}
	return rec, nil
}

// RadicalRecord converts a radical line to its stored form.
func RadicalRecord(e download.RadicalEntryLine) (db.RadicalRecord, error) {
	rec := db.RadicalRecord(e)
	if rec.Na == nil {
		rec.Na = []string{}
	}
	if rec.M == nil {
		rec.M = []string{}
	}
	return rec, nil
}

func codePoint(s string) (int, error) {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("kanji %q is not a single character", s)
	}
	return int(r), nil
}

func dbVersion(v download.Version, lang string) db.DatabaseVersion {
	return db.DatabaseVersion{
		Major:           v.Major,
		Minor:           v.Minor,
		Patch:           v.Patch,
		DatabaseVersion: v.DatabaseVersion,
		DateOfCreation:  v.DateOfCreation,
		Lang:            lang,
	}
}
