package download

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Options configures a download.
type Options struct {
	// BaseURL is the location of the manifest and database files.
	BaseURL string
	Lang    string
	// CurrentVersion is the locally stored version, nil if there is none.
	CurrentVersion *Version
	Client         *http.Client
	Logger         *zap.Logger
}

type streamStage int

const (
	stageStart streamStage = iota
	stageReading
	stageDone
)

// Stream is a lazy, pull-based sequence of download events. The manifest is
// only fetched on the first call to Next. A Stream is consumed by a single
// goroutine; Close may be called from any goroutine.
type Stream[E, D any] struct {
	ds     Dataset[E, D]
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stage    streamStage
	manifest *Manifest
	url      string
	body     io.ReadCloser
	counter  *countingReader
	decoder  *LineDecoder
	total    int64
	reported int64

	sawVersion bool
	err        error
}

// Download prepares a download of ds. Nothing is fetched until Next is called.
func Download[E, D any](ctx context.Context, ds Dataset[E, D], opts Options) *Stream[E, D] {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Stream[E, D]{
		ds:     ds,
		opts:   opts,
		logger: logger.With(zap.String("dataset", ds.Name)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Manifest returns the fetched manifest, or nil before the first Next.
func (s *Stream[E, D]) Manifest() *Manifest { return s.manifest }

// Next returns the next event, io.EOF at the end of the stream, or the first
// error encountered. Errors are sticky.
func (s *Stream[E, D]) Next() (Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ev, err := s.next()
	if err != nil {
		s.err = err
		s.stage = stageDone
		s.release()
	}
	return ev, err
}

// Close aborts any in-flight request. It is safe to call concurrently with Next.
func (s *Stream[E, D]) Close() error {
	s.cancel()
	return nil
}

func (s *Stream[E, D]) release() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.cancel()
}

func (s *Stream[E, D]) next() (Event, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	if s.stage == stageStart {
		if err := s.open(); err != nil {
			return nil, err
		}
	}
	if s.stage == stageDone {
		return nil, io.EOF
	}

	if ev, ok := s.progress(); ok {
		return ev, nil
	}

	line, err := s.decoder.Next()
	if errors.Is(err, io.EOF) {
		if ev, ok := s.progress(); ok {
			return ev, nil
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, s.withURL(err)
	}

	ev, err := s.ds.Classify(line)
	if err != nil {
		return nil, s.withURL(err)
	}

	switch e := ev.(type) {
	case VersionEvent:
		if err := s.checkVersion(e.Version); err != nil {
			return nil, err
		}
		s.sawVersion = true
	default:
		if !s.sawVersion {
			return nil, &DownloadError{Code: DatabaseFileVersionMissing, URL: s.url, Line: line.Text}
		}
	}
	return ev, nil
}

// open fetches the manifest, picks the download strategy and starts the
// snapshot request.
func (s *Stream[E, D]) open() error {
	manifestURL := ManifestURL(s.opts.BaseURL, s.ds.Name, s.opts.Lang)
	m, err := FetchManifest(s.ctx, s.opts.Client, manifestURL)
	if err != nil {
		return err
	}
	s.manifest = m

	if cur := s.opts.CurrentVersion; cur != nil && cur.Major == m.Major && cur.Minor == m.Minor {
		if cur.Patch == m.Patch {
			s.logger.Info("dataset is up to date", zap.String("version", cur.String()))
			s.stage = stageDone
			return nil
		}
		return ErrIncrementalUnsupported
	}

	s.url = SnapshotURL(s.opts.BaseURL, s.ds.Name, s.opts.Lang, *m)
	s.logger.Info("downloading snapshot", zap.String("url", s.url))

	resp, err := get(s.ctx, s.opts.Client, s.url, "application/x-ndjson, */*")
	if err != nil {
		return &DownloadError{Code: DatabaseFileNotAccessible, URL: s.url, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return &DownloadError{Code: DatabaseFileNotFound, URL: s.url}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return &DownloadError{Code: DatabaseFileNotAccessible, URL: s.url, Msg: resp.Status}
	}

	s.body = resp.Body
	s.total = max(resp.ContentLength, 0)
	s.counter = &countingReader{r: resp.Body}
	s.decoder = NewLineDecoder(s.counter)
	s.stage = stageReading
	return nil
}

func (s *Stream[E, D]) checkVersion(v Version) error {
	m := s.manifest
	mismatch := v.Major != m.Major || v.Minor != m.Minor
	if !s.sawVersion && v.Patch != m.Snapshot {
		mismatch = true
	}
	if mismatch {
		return &DownloadError{
			Code: DatabaseFileVersionMismatch,
			URL:  s.url,
			Msg:  "got " + v.String() + ", expected " + Version{Major: m.Major, Minor: m.Minor, Patch: m.Snapshot}.String(),
		}
	}
	return nil
}

func (s *Stream[E, D]) progress() (Event, bool) {
	if s.counter == nil || s.counter.n == s.reported {
		return nil, false
	}
	s.reported = s.counter.n
	return ProgressEvent{Loaded: s.reported, Total: s.total}, true
}

func (s *Stream[E, D]) withURL(err error) error {
	var de *DownloadError
	if errors.As(err, &de) && de.URL == "" {
		de.URL = s.url
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
