package db

// VersionID identifies the row in the versions table that belongs to a dataset.
type VersionID int

const (
	KanjiVersionID   VersionID = 1
	RadicalVersionID VersionID = 2
)

// DatabaseVersion identifies the snapshot of a dataset stored locally.
type DatabaseVersion struct {
	Major           int    `json:"major"`
	Minor           int    `json:"minor"`
	Patch           int    `json:"patch"`
	DatabaseVersion string `json:"databaseVersion"`
	DateOfCreation  string `json:"dateOfCreation"`
	Lang            string `json:"lang"`
}

// Readings holds the on, kun and name (nanori) readings of a kanji.
type Readings struct {
	On  []string `json:"on,omitempty"`
	Kun []string `json:"kun,omitempty"`
	Na  []string `json:"na,omitempty"`
}

// RadicalRef points from a kanji to its radical.
type RadicalRef struct {
	X      int      `json:"x"`
	Nelson *int     `json:"nelson,omitempty"`
	Name   []string `json:"name,omitempty"`
	Var    string   `json:"var,omitempty"`
}

// Misc holds the miscellaneous stats of a kanji.
type Misc struct {
	StrokeCount int  `json:"sc"`
	Grade       *int `json:"gr,omitempty"`
	Freq        *int `json:"freq,omitempty"`
	JLPT        *int `json:"jlpt,omitempty"`
	Kanken      *int `json:"kk,omitempty"`
}

// KanjiRecord is the stored form of a kanji entry, keyed by the code point of C.
type KanjiRecord struct {
	C     int            `json:"c"`
	R     Readings       `json:"r"`
	M     []string       `json:"m"`
	MLang string         `json:"m_lang,omitempty"`
	Rad   RadicalRef     `json:"rad"`
	Refs  map[string]any `json:"refs"`
	Misc  Misc           `json:"misc"`
	Comp  string         `json:"comp,omitempty"`
	Var   []string       `json:"var,omitempty"`
	Cf    string         `json:"cf,omitempty"`
}

// RadicalRecord is the stored form of a radical entry.
//
// ID is the zero-padded radical number ("001") optionally followed by a variant
// suffix ("001-a"). Base radicals carry B and/or K, variants exactly one of them.
type RadicalRecord struct {
	ID    string   `json:"id"`
	R     int      `json:"r"`
	B     string   `json:"b,omitempty"`
	K     string   `json:"k,omitempty"`
	PUA   *int     `json:"pua,omitempty"`
	S     int      `json:"s"`
	Na    []string `json:"na"`
	Posn  string   `json:"posn,omitempty"`
	M     []string `json:"m"`
	MLang string   `json:"m_lang,omitempty"`
}
