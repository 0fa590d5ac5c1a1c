package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxManifestSize bounds the version manifest body.
const maxManifestSize = 64 * 1024

// Manifest describes the latest published version of a dataset.
type Manifest struct {
	Major           int    `json:"major"`
	Minor           int    `json:"minor"`
	Patch           int    `json:"patch"`
	Snapshot        int    `json:"snapshot"`
	DatabaseVersion string `json:"databaseVersion"`
	DateOfCreation  string `json:"dateOfCreation"`
}

// Validate checks the semantic constraints of a manifest.
func (m Manifest) Validate() error {
	switch {
	case m.Major < 1:
		return fmt.Errorf("major version must be at least 1, got %d", m.Major)
	case m.Minor < 0:
		return fmt.Errorf("minor version must not be negative, got %d", m.Minor)
	case m.Patch < 0:
		return fmt.Errorf("patch version must not be negative, got %d", m.Patch)
	case m.Snapshot < 0:
		return fmt.Errorf("snapshot must not be negative, got %d", m.Snapshot)
	case strings.TrimSpace(m.DatabaseVersion) == "":
		return fmt.Errorf("databaseVersion is required")
	case strings.TrimSpace(m.DateOfCreation) == "":
		return fmt.Errorf("dateOfCreation is required")
	}
	return nil
}

// ManifestURL returns the URL of the version manifest for a dataset.
func ManifestURL(baseURL, dataset, lang string) string {
	return fmt.Sprintf("%s/%s-rc-%s-version.json", strings.TrimRight(baseURL, "/"), dataset, lang)
}

// SnapshotURL returns the URL of the full snapshot file named by a manifest.
func SnapshotURL(baseURL, dataset, lang string, m Manifest) string {
	return fmt.Sprintf("%s/%s-rc-%s-%d.%d.%d-full.ljson",
		strings.TrimRight(baseURL, "/"), dataset, lang, m.Major, m.Minor, m.Snapshot)
}

// FetchManifest downloads and validates the version manifest.
func FetchManifest(ctx context.Context, client *http.Client, url string) (*Manifest, error) {
	resp, err := get(ctx, client, url, "application/json")
	if err != nil {
		return nil, &DownloadError{Code: VersionFileNotAccessible, URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &DownloadError{Code: VersionFileNotFound, URL: url}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &DownloadError{Code: VersionFileNotAccessible, URL: url, Msg: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, &DownloadError{Code: VersionFileNotAccessible, URL: url, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &DownloadError{Code: VersionFileInvalid, URL: url, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &DownloadError{Code: VersionFileInvalid, URL: url, Err: err}
	}
	return &m, nil
}

func get(ctx context.Context, client *http.Client, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "kanjidb")
	req.Header.Set("Accept", accept)
	return client.Do(req)
}
