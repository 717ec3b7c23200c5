package geoip

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ignite/mailtrack/internal/pkg/httpretry"
)

// DefaultDownloadURL is MaxMind's permalink for the GeoLite2-City tarball.
const DefaultDownloadURL = "https://download.maxmind.com/app/geoip_download"

// ErrNoSource means the database is missing and neither S3 nor a license key
// is configured to fetch it.
var ErrNoSource = errors.New("geoip database missing and no download source configured")

// FileDownloader fetches an object to a local path. *storage.S3Store
// satisfies it.
type FileDownloader interface {
	DownloadFile(ctx context.Context, bucket, key, path string) error
}

// Source says where to fetch the database from when it is missing.
type Source struct {
	Path        string
	S3Bucket    string
	S3Key       string
	LicenseKey  string
	DownloadURL string
}

// Provisioner makes sure the mmdb file exists locally.
type Provisioner struct {
	s3   FileDownloader
	http httpretry.HTTPDoer
}

// NewProvisioner builds a provisioner. s3 may be nil when no bucket is
// configured; a nil client gets a retrying default.
func NewProvisioner(s3 FileDownloader, client httpretry.HTTPDoer) *Provisioner {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &Provisioner{s3: s3, http: client}
}

// Ensure downloads the database if src.Path does not exist yet. S3 is tried
// first, then the MaxMind download with the license key.
func (p *Provisioner) Ensure(ctx context.Context, src Source) error {
	if src.Path == "" {
		return errors.New("geoip db path is empty")
	}
	if _, err := os.Stat(src.Path); err == nil {
		return nil
	}
	return p.Fetch(ctx, src)
}

// Fetch downloads the database unconditionally, replacing any existing file.
func (p *Provisioner) Fetch(ctx context.Context, src Source) error {
	switch {
	case src.S3Bucket != "" && p.s3 != nil:
		key := src.S3Key
		if key == "" {
			key = filepath.Base(src.Path)
		}
		log.Printf("[GeoIP] Downloading s3://%s/%s to %s", src.S3Bucket, key, src.Path)
		return p.s3.DownloadFile(ctx, src.S3Bucket, key, src.Path)
	case src.LicenseKey != "":
		log.Printf("[GeoIP] Downloading GeoLite2-City from MaxMind to %s", src.Path)
		return p.fetchMaxMind(ctx, src)
	}
	return ErrNoSource
}

func (p *Provisioner) fetchMaxMind(ctx context.Context, src Source) error {
	base := src.DownloadURL
	if base == "" {
		base = DefaultDownloadURL
	}
	q := url.Values{}
	q.Set("edition_id", "GeoLite2-City")
	q.Set("license_key", src.LicenseKey)
	q.Set("suffix", "tar.gz")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("download geoip database: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download geoip database: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(src.Path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(src.Path), ".geoip-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), src.Path)
}

// extractMMDB copies the first *.mmdb member of a tar.gz stream into w.
func extractMMDB(r io.Reader, w io.Writer) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return errors.New("no .mmdb file in archive")
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".mmdb") {
			continue
		}
		if _, err := io.Copy(w, tr); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		return nil
	}
}
