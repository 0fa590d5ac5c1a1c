package kanjidb

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/japaniel/kanjidb/pkg/db"
)

// replacementGlyph stands in for a radical that is missing from the database.
const replacementGlyph = "\uFFFD"

// KanjiResult is a kanji record with its radical resolved.
type KanjiResult struct {
	db.KanjiRecord
	// Char is the kanji itself.
	Char string        `json:"char"`
	Rad  RadicalResult `json:"rad"`
}

// RadicalResult is the radical of a kanji. Base is set when the kanji uses a
// variant form.
type RadicalResult struct {
	X      int          `json:"x"`
	Nelson *int         `json:"nelson,omitempty"`
	Name   []string     `json:"name,omitempty"`
	B      string       `json:"b,omitempty"`
	K      string       `json:"k,omitempty"`
	Na     []string     `json:"na"`
	M      []string     `json:"m"`
	MLang  string       `json:"m_lang,omitempty"`
	Base   *BaseRadical `json:"base,omitempty"`
}

// BaseRadical is the display data of a base radical.
type BaseRadical struct {
	B     string   `json:"b,omitempty"`
	K     string   `json:"k,omitempty"`
	Na    []string `json:"na"`
	M     []string `json:"m"`
	MLang string   `json:"m_lang,omitempty"`
}

// RadicalID returns the radicals table key a kanji's radical reference points to.
func RadicalID(ref db.RadicalRef) string {
	id := fmt.Sprintf("%03d", ref.X)
	if ref.Var != "" {
		id += "-" + ref.Var
	}
	return id
}

// GetKanji looks up chars and resolves their radicals. It returns an empty
// result unless the database is ready. Characters that are not stored are
// skipped; results keep the order of the found records.
func (d *Database) GetKanji(ctx context.Context, chars []string) ([]KanjiResult, error) {
	if d.State() != StateOk {
		return []KanjiResult{}, nil
	}

	cs := make([]int, 0, len(chars))
	for _, ch := range chars {
		r, size := utf8.DecodeRuneInString(ch)
		if r == utf8.RuneError || size != len(ch) {
			d.logger.Debug("skipping invalid kanji lookup", zap.String("char", ch))
			continue
		}
		cs = append(cs, int(r))
	}

	conn := d.store.DB()
	found, err := db.BulkGetKanji(ctx, conn, cs)
	if err != nil {
		return nil, fmt.Errorf("get kanji: %w", err)
	}

	records := make([]*db.KanjiRecord, 0, len(found))
	var ids []string
	seen := make(map[string]bool)
	addID := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, rec := range found {
		if rec == nil {
			continue
		}
		records = append(records, rec)
		addID(RadicalID(rec.Rad))
		if rec.Rad.Var != "" {
			addID(RadicalID(db.RadicalRef{X: rec.Rad.X}))
		}
	}

	radicals, err := db.BulkGetRadicals(ctx, conn, ids)
	if err != nil {
		return nil, fmt.Errorf("get radicals: %w", err)
	}
	byID := make(map[string]*db.RadicalRecord, len(radicals))
	for i, rad := range radicals {
		if rad != nil {
			byID[ids[i]] = rad
		}
	}

	results := make([]KanjiResult, 0, len(records))
	for _, rec := range records {
		results = append(results, KanjiResult{
			KanjiRecord: *rec,
			Char:        string(rune(rec.C)),
			Rad:         d.resolveRadical(rec, byID),
		})
	}
	return results, nil
}

func (d *Database) resolveRadical(rec *db.KanjiRecord, byID map[string]*db.RadicalRecord) RadicalResult {
	ref := rec.Rad
	res := RadicalResult{X: ref.X, Nelson: ref.Nelson, Name: ref.Name}

	id := RadicalID(ref)
	rad, ok := byID[id]
	if !ok {
		d.logger.Error("radical not found",
			zap.String("kanji", string(rune(rec.C))),
			zap.String("radical", id),
		)
		res.B = replacementGlyph
		res.K = replacementGlyph
		res.Na = []string{""}
		res.M = []string{""}
		res.MLang = d.opts.Lang
		return res
	}

	res.B, res.K = rad.B, rad.K
	res.Na, res.M, res.MLang = rad.Na, rad.M, rad.MLang

	if ref.Var != "" {
		if base, ok := byID[RadicalID(db.RadicalRef{X: ref.X})]; ok {
			res.Base = &BaseRadical{B: base.B, K: base.K, Na: base.Na, M: base.M, MLang: base.MLang}
		} else {
			d.logger.Error("base radical not found",
				zap.String("kanji", string(rune(rec.C))),
				zap.String("radical", id),
			)
		}
	}
	return res
}
