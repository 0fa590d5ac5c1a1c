package update

import (
	"errors"

	"github.com/japaniel/kanjidb/pkg/download"
)

// ErrDeletionInFullVersion is returned when a deletion record follows a
// non-partial version line. Full versions replace the whole table, so a
// deletion there means the database file is malformed.
var ErrDeletionInFullVersion = errors.New("deletion record in a full version")

var errBatchClosed = errors.New("version batch already committed")

// Batch is everything buffered for one version, committed in a single
// transaction.
type Batch[D, R any] struct {
	Version download.Version
	// Full batches replace the table; Deletions is always empty for them.
	Full      bool
	Deletions []D
	Records   []R
}

// versionBatch buffers the records of the version being downloaded until it
// is finalized. Nothing is written per record.
type versionBatch[D, R any] struct {
	b      Batch[D, R]
	closed bool
}

func newVersionBatch[D, R any](v download.Version) *versionBatch[D, R] {
	return &versionBatch[D, R]{b: Batch[D, R]{Version: v, Full: !v.Partial}}
}

func (vb *versionBatch[D, R]) put(r R) error {
	if vb.closed {
		return errBatchClosed
	}
	vb.b.Records = append(vb.b.Records, r)
	return nil
}

func (vb *versionBatch[D, R]) delete(d D) error {
	if vb.closed {
		return errBatchClosed
	}
	if vb.b.Full {
		return ErrDeletionInFullVersion
	}
	vb.b.Deletions = append(vb.b.Deletions, d)
	return nil
}

// take closes the batch and hands over its contents.
func (vb *versionBatch[D, R]) take() Batch[D, R] {
	vb.closed = true
	b := vb.b
	vb.b = Batch[D, R]{Version: b.Version, Full: b.Full}
	return b
}

func (vb *versionBatch[D, R]) size() int {
	return len(vb.b.Records) + len(vb.b.Deletions)
}
