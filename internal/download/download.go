package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
)

const (
	// DefaultHeaderTimeout bounds the wait for response headers.
	DefaultHeaderTimeout = 30 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "tow/1.0"
	// chunkSize is the read buffer used while streaming a body to disk.
	chunkSize = 32 * 1024
	// maxRedirects matches what browsers and curl tolerate.
	maxRedirects = 10
)

// Progress observes a download. Update receives the running byte count,
// never more than the total passed to Start.
type Progress interface {
	Start(url string, total int64)
	Update(downloaded int64)
	Finish(path string)
}

type noopProgress struct{}

func (noopProgress) Start(string, int64) {}
func (noopProgress) Update(int64)        {}
func (noopProgress) Finish(string)       {}

// Options configures a Downloader. The zero value is usable.
type Options struct {
	// HeaderTimeout bounds the wait for response headers. Zero means
	// DefaultHeaderTimeout. The body transfer is bounded only by ctx.
	HeaderTimeout time.Duration
	UserAgent     string
	Progress      Progress
	Logger        logrus.FieldLogger
	// Client replaces the default client. Its transport should not
	// negotiate compression.
	Client *http.Client
}

// Downloader streams URLs to files.
type Downloader struct {
	client    *http.Client
	userAgent string
	progress  Progress
	log       logrus.FieldLogger
}

// New creates a Downloader.
func New(opts Options) *Downloader {
	d := &Downloader{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		progress:  opts.Progress,
		log:       opts.Logger,
	}
	if d.client == nil {
		d.client = newClient(opts.HeaderTimeout)
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	if d.progress == nil {
		d.progress = noopProgress{}
	}
	if d.log == nil {
		d.log = logrus.WithField("component", "download")
	}
	return d
}

// newClient builds a client whose transport never asks for compressed
// bodies, so Content-Length is the number of bytes that reach the disk.
func newClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	transport.ResponseHeaderTimeout = headerTimeout

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// Download fetches rawURL into destDir and returns the path written.
//
// The file name comes from the Content-Disposition header; without one the
// download fails. The body is written chunk by chunk as it arrives. On error
// a partially written file is left in place for the caller to deal with.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
		return "", towerr.New(towerr.NotADirectory, fmt.Sprintf("'%s' is not a directory", destDir))
	}

	u, err := parseURL(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", towerr.Wrap(towerr.URLParse, rawURL, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept-Encoding", "identity")

	log := d.log.WithField("url", u.Redacted())
	log.Debug("requesting")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", towerr.Wrap(towerr.Network, u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", towerr.New(towerr.Network, fmt.Sprintf("%s: unexpected status %s", u.Redacted(), resp.Status))
	}

	total := resp.ContentLength
	if total < 0 {
		log.Warn("cannot extract content-length")
		total = 0
	}

	filename, err := filenameFromHeaders(resp.Header)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(destDir, filename)

	file, err := os.Create(fullPath)
	if err != nil {
		return "", towerr.Wrap(towerr.IO, fullPath, err)
	}
	defer file.Close()

	d.progress.Start(u.Redacted(), total)

	written, err := d.stream(ctx, file, resp.Body, total, log)
	if err != nil {
		return "", err
	}

	if err := file.Close(); err != nil {
		return "", towerr.Wrap(towerr.IO, fullPath, err)
	}

	d.progress.Finish(fullPath)
	log.WithFields(logrus.Fields{
		"path":  fullPath,
		"bytes": written,
	}).Info("downloaded")

	return fullPath, nil
}

// stream copies src to dst one chunk at a time, checking ctx before each
// read and reporting clamped progress after each write. It returns the
// number of bytes written.
func (d *Downloader) stream(ctx context.Context, dst io.Writer, src io.Reader, total int64, log logrus.FieldLogger) (int64, error) {
	buf := make([]byte, chunkSize)
	progressLog := rate.Sometimes{Interval: time.Second}

	var written, reported int64
	for {
		select {
		case <-ctx.Done():
			return written, towerr.Wrap(towerr.Network, "download interrupted", ctx.Err())
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, towerr.Wrap(towerr.IO, "write chunk", writeErr)
			}
			if nw != nr {
				return written, towerr.Wrap(towerr.IO, "write chunk", io.ErrShortWrite)
			}

			reported = min(reported+int64(nr), total)
			d.progress.Update(reported)
			progressLog.Do(func() {
				log.WithFields(logrus.Fields{
					"written": written,
					"total":   total,
				}).Debug("download progress")
			})
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, towerr.Wrap(towerr.Network, "read body", readErr)
		}
	}
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, towerr.Wrap(towerr.URLParse, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, towerr.New(towerr.URLParse, fmt.Sprintf("%s: unsupported scheme %q", rawURL, u.Scheme))
	}
	if u.Host == "" {
		return nil, towerr.New(towerr.URLParse, rawURL+": missing host")
	}
	return u, nil
}
