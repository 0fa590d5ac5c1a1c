package download

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/japaniel/kanjidb/pkg/db"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Version identifies the data that follows a version line in a database file.
type Version struct {
	Major           int    `json:"major"`
	Minor           int    `json:"minor"`
	Patch           int    `json:"patch"`
	DatabaseVersion string `json:"databaseVersion"`
	DateOfCreation  string `json:"dateOfCreation"`
	// Partial versions are deltas: their deletions are meaningful and the
	// table is not replaced.
	Partial bool `json:"partial,omitempty"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Event is one item of a download: VersionEvent, EntryEvent, DeletionEvent
// or ProgressEvent.
type Event interface {
	isEvent()
}

type VersionEvent struct {
	Version Version
}

type EntryEvent[E any] struct {
	Entry E
}

type DeletionEvent[D any] struct {
	Deletion D
}

// ProgressEvent reports bytes read so far. Total is 0 when the size is unknown.
type ProgressEvent struct {
	Loaded int64
	Total  int64
}

func (VersionEvent) isEvent()     {}
func (EntryEvent[E]) isEvent()    {}
func (DeletionEvent[D]) isEvent() {}
func (ProgressEvent) isEvent()    {}

// KanjiEntryLine is a kanji record as it appears in the database file, keyed
// by the character itself rather than its code point.
type KanjiEntryLine struct {
	C     string         `json:"c"`
	R     db.Readings    `json:"r"`
	M     []string       `json:"m"`
	MLang string         `json:"m_lang,omitempty"`
	Rad   db.RadicalRef  `json:"rad"`
	Refs  map[string]any `json:"refs"`
	Misc  db.Misc        `json:"misc"`
	Comp  string         `json:"comp,omitempty"`
	Var   []string       `json:"var,omitempty"`
	Cf    string         `json:"cf,omitempty"`
}

type KanjiDeletionLine struct {
	C       string `json:"c"`
	Deleted bool   `json:"deleted"`
}

// RadicalEntryLine has the same shape as the stored radical record.
type RadicalEntryLine db.RadicalRecord

type RadicalDeletionLine struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Dataset describes one downloadable dataset and validates its records.
type Dataset[E, D any] struct {
	Name     string
	entry    *jsonschema.Schema
	deletion *jsonschema.Schema
}

var versionSchema = mustCompile("version-line.schema.json")

var (
	Kanji = Dataset[KanjiEntryLine, KanjiDeletionLine]{
		Name:     "kanji",
		entry:    mustCompile("kanji-entry.schema.json"),
		deletion: mustCompile("kanji-deletion.schema.json"),
	}
	Radicals = Dataset[RadicalEntryLine, RadicalDeletionLine]{
		Name:     "radicals",
		entry:    mustCompile("radical-entry.schema.json"),
		deletion: mustCompile("radical-deletion.schema.json"),
	}
)

func mustCompile(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// IsEntryLine reports whether v is a valid entry record. Records carrying a
// deleted marker are never entries.
func (ds Dataset[E, D]) IsEntryLine(v any) bool {
	return ds.entry.Validate(v) == nil
}

// IsDeletionLine reports whether v is a valid deletion record.
func (ds Dataset[E, D]) IsDeletionLine(v any) bool {
	return ds.deletion.Validate(v) == nil
}

// Classify turns a decoded line into a VersionEvent, EntryEvent or
// DeletionEvent, or fails with DatabaseFileInvalidRecord.
func (ds Dataset[E, D]) Classify(line Line) (Event, error) {
	if obj, ok := line.Value.(map[string]any); ok && obj["type"] == "version" {
		if err := versionSchema.Validate(line.Value); err != nil {
			return nil, invalidRecord(line, err)
		}
		var v Version
		if err := json.Unmarshal([]byte(line.Text), &v); err != nil {
			return nil, invalidRecord(line, err)
		}
		return VersionEvent{Version: v}, nil
	}

	entryErr := ds.entry.Validate(line.Value)
	if entryErr == nil {
		var e E
		if err := json.Unmarshal([]byte(line.Text), &e); err != nil {
			return nil, invalidRecord(line, err)
		}
		return EntryEvent[E]{Entry: e}, nil
	}

	if ds.IsDeletionLine(line.Value) {
		var d D
		if err := json.Unmarshal([]byte(line.Text), &d); err != nil {
			return nil, invalidRecord(line, err)
		}
		return DeletionEvent[D]{Deletion: d}, nil
	}

	return nil, invalidRecord(line, entryErr)
}

func invalidRecord(line Line, err error) *DownloadError {
	return &DownloadError{Code: DatabaseFileInvalidRecord, Line: line.Text, Err: err}
}
