// Package crlcache provides a process-wide cache for certificate revocation
// lists keyed by distribution-point URL. Cached lists are reused until their
// own next-update time passes; refreshes for the same URL are serialized so
// that concurrent validations never trigger redundant downloads.
package crlcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Common downloader errors.
var (
	ErrDownloadFailed    = errors.New("CRL download failed")
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
)

// Downloader retrieves raw CRL bytes from a distribution point.
type Downloader interface {
	Download(ctx context.Context, urlStr string) ([]byte, error)
}

// DownloaderConfig configures the HTTP downloader.
type DownloaderConfig struct {
	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout bounds reading the response after the connection is up.
	ReadTimeout time.Duration

	// MaxResponseSize limits the size of a downloaded CRL in bytes.
	MaxResponseSize int64

	// UserAgent header sent with requests.
	UserAgent string

	// HTTPClient allows using a custom HTTP client. When set, the timeout
	// fields above are ignored in favor of the client's own configuration.
	HTTPClient *http.Client
}

// DefaultDownloaderConfig returns the default downloader configuration.
func DefaultDownloaderConfig() *DownloaderConfig {
	return &DownloaderConfig{
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     20 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024, // 10 MB
		UserAgent:       "sig-validation-base/1.0",
	}
}

// HTTPDownloader downloads CRLs over HTTP(S) with explicit connect and read
// timeouts. Timeout expiry surfaces as an error wrapping ErrDownloadFailed.
type HTTPDownloader struct {
	config *DownloaderConfig
	client *http.Client
	log    *zap.Logger
}

// NewHTTPDownloader creates an HTTPDownloader.
func NewHTTPDownloader(config *DownloaderConfig, log *zap.Logger) *HTTPDownloader {
	if config == nil {
		config = DefaultDownloaderConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := config.HTTPClient
	if client == nil {
		dialer := &net.Dialer{Timeout: config.ConnectTimeout}
		client = &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   config.ConnectTimeout,
				ResponseHeaderTimeout: config.ReadTimeout,
			},
			Timeout: config.ConnectTimeout + config.ReadTimeout,
		}
	}

	return &HTTPDownloader{
		config: config,
		client: client,
		log:    log,
	}
}

// Download fetches CRL bytes from the given URL.
func (d *HTTPDownloader) Download(ctx context.Context, urlStr string) ([]byte, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrDownloadFailed, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrDownloadFailed, resp.StatusCode, urlStr)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	d.log.Debug("downloaded CRL",
		zap.String("url", urlStr),
		zap.Int("bytes", len(data)))
	return data, nil
}
