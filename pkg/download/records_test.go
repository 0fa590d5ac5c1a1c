package download

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLine(t *testing.T, text string) Line {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(text), &v))
	return Line{Text: text, Value: v}
}

const (
	kanjiLine = `{"c":"日","r":{"on":["ニチ","ジツ"],"kun":["ひ","か"]},"m":["day","sun"],` +
		`"rad":{"x":72},"refs":{"nelson_c":2097,"halpern_njecd":"3027"},"misc":{"sc":4,"gr":1,"freq":1,"jlpt":4}}`
	radicalLine  = `{"id":"072","r":72,"b":"日","k":"日","s":4,"na":["ひ"],"m":["sun"]}`
	versionLine  = `{"type":"version","major":4,"minor":0,"patch":2,"databaseVersion":"2024-01","dateOfCreation":"2024-01-05"}`
	variantLine1 = `{"id":"061-hen","r":61,"b":"⺖","s":3,"na":["りっしんべん"],"m":["heart"]}`
)

func TestClassify_Version(t *testing.T) {
	ev, err := Kanji.Classify(mustLine(t, versionLine))
	require.NoError(t, err)

	v, ok := ev.(VersionEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, Version{Major: 4, Minor: 0, Patch: 2, DatabaseVersion: "2024-01", DateOfCreation: "2024-01-05"}, v.Version)
	assert.Equal(t, "4.0.2", v.Version.String())
}

func TestClassify_KanjiEntry(t *testing.T) {
	ev, err := Kanji.Classify(mustLine(t, kanjiLine))
	require.NoError(t, err)

	e, ok := ev.(EntryEvent[KanjiEntryLine])
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "日", e.Entry.C)
	assert.Equal(t, []string{"ニチ", "ジツ"}, e.Entry.R.On)
	assert.Equal(t, 72, e.Entry.Rad.X)
	assert.Equal(t, 4, e.Entry.Misc.StrokeCount)
	require.NotNil(t, e.Entry.Misc.JLPT)
	assert.Equal(t, 4, *e.Entry.Misc.JLPT)
	assert.Equal(t, "3027", e.Entry.Refs["halpern_njecd"])
}

func TestClassify_Deletion(t *testing.T) {
	ev, err := Kanji.Classify(mustLine(t, `{"c":"日","deleted":true}`))
	require.NoError(t, err)
	d, ok := ev.(DeletionEvent[KanjiDeletionLine])
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "日", d.Deletion.C)

	ev, err = Radicals.Classify(mustLine(t, `{"id":"072","deleted":true}`))
	require.NoError(t, err)
	rd, ok := ev.(DeletionEvent[RadicalDeletionLine])
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "072", rd.Deletion.ID)
}

func TestClassify_EntryWithDeletedMarkerIsNotEntry(t *testing.T) {
	line := mustLine(t, kanjiLine[:len(kanjiLine)-1]+`,"deleted":true}`)
	assert.False(t, Kanji.IsEntryLine(line.Value))
	assert.False(t, Kanji.IsDeletionLine(line.Value))

	_, err := Kanji.Classify(line)
	assert.True(t, IsCode(err, DatabaseFileInvalidRecord))
}

func TestClassify_InvalidRecords(t *testing.T) {
	tests := []struct {
		name string
		ds   func(Line) (Event, error)
		line string
	}{
		{"kanji missing misc", Kanji.Classify, `{"c":"日","r":{},"m":[],"rad":{"x":72},"refs":{}}`},
		{"kanji multi-char c", Kanji.Classify, `{"c":"日本","r":{},"m":[],"rad":{"x":72},"refs":{},"misc":{"sc":4}}`},
		{"kanji bad radical", Kanji.Classify, `{"c":"日","r":{},"m":[],"rad":{"x":0},"refs":{},"misc":{"sc":4}}`},
		{"kanji ref of wrong type", Kanji.Classify, `{"c":"日","r":{},"m":[],"rad":{"x":72},"refs":{"a":[1]},"misc":{"sc":4}}`},
		{"deletion false", Kanji.Classify, `{"c":"日","deleted":false}`},
		{"deletion extra field", Kanji.Classify, `{"c":"日","deleted":true,"m":[]}`},
		{"version without major", Kanji.Classify, `{"type":"version","minor":0,"patch":0,"databaseVersion":"x","dateOfCreation":"y"}`},
		{"version major zero", Kanji.Classify, `{"type":"version","major":0,"minor":0,"patch":0,"databaseVersion":"x","dateOfCreation":"y"}`},
		{"radical bad id", Radicals.Classify, `{"id":"72","r":72,"b":"日","s":4,"na":[],"m":[]}`},
		{"radical without b or k", Radicals.Classify, `{"id":"072","r":72,"s":4,"na":[],"m":[]}`},
		{"variant with b and k", Radicals.Classify, `{"id":"061-hen","r":61,"b":"⺖","k":"忄","s":3,"na":[],"m":[]}`},
		{"array", Kanji.Classify, `[1,2]`},
		{"number", Kanji.Classify, `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ds(mustLine(t, tt.line))
			require.Error(t, err)
			assert.True(t, IsCode(err, DatabaseFileInvalidRecord), "got %v", err)

			var de *DownloadError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.line, de.Line)
		})
	}
}

func TestClassify_Radicals(t *testing.T) {
	tests := []struct {
		name string
		line string
		id   string
	}{
		{"base with b and k", radicalLine, "072"},
		{"base with k only", `{"id":"009","r":9,"k":"亻","s":2,"na":["にんべん"],"m":["person"]}`, "009"},
		{"variant with b only", variantLine1, "061-hen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Radicals.Classify(mustLine(t, tt.line))
			require.NoError(t, err)
			e, ok := ev.(EntryEvent[RadicalEntryLine])
			require.True(t, ok, "got %T", ev)
			assert.Equal(t, tt.id, e.Entry.ID)
		})
	}
}
