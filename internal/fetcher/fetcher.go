// Package fetcher retrieves page titles and templated command results over HTTP.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maypok86/otter"
	"github.com/mmcdole/gofeed"
	"github.com/zeebo/xxh3"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/idna"

	"chanbot/internal/settings"
)

// ErrNoTitle is returned when a response carries nothing worth announcing.
var ErrNoTitle = errors.New("no title")

const (
	// MaxTitleBytes bounds an announced title.
	MaxTitleBytes = 400

	maxBodyBytes   = 5 * 1024 * 1024
	cacheEntries   = 1024
	cacheTTL       = 10 * time.Minute
	defaultTimeout = 10 * time.Second
	userAgent      = "chanbot/1.0"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads pages and feeds and extracts their titles.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
	titles  otter.Cache[uint64, string]
	log     *slog.Logger
}

// New creates a Fetcher with the given HTTP client. A zero timeout uses the default.
func New(client HTTPClient, timeout time.Duration, log *slog.Logger) (*Fetcher, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	titles, err := otter.MustBuilder[uint64, string](cacheEntries).
		WithTTL(cacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build title cache: %w", err)
	}
	return &Fetcher{client: client, timeout: timeout, titles: titles, log: log}, nil
}

// Close releases the title cache.
func (f *Fetcher) Close() {
	f.titles.Close()
}

// Title returns the cleaned title of the HTML page or feed at rawURL.
// Titles that are empty or merely repeat the URL yield ErrNoTitle.
func (f *Fetcher) Title(ctx context.Context, rawURL string) (string, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	key := xxh3.HashString(target)
	if title, ok := f.titles.Get(key); ok {
		return title, nil
	}

	resp, cancel, err := f.get(ctx, target)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	raw, err := extractTitle(resp)
	if err != nil {
		return "", err
	}
	title := CleanTitle(raw)
	if title == "" || title == rawURL || title == target {
		return "", ErrNoTitle
	}

	f.titles.Set(key, title)
	f.log.Debug("fetched title", "url", target, "title", title)
	return title, nil
}

// FetchTemplated renders cmd with arg, fetches the result and returns what
// the command's output filter captures: group 1 when present, else the whole match.
func (f *Fetcher) FetchTemplated(ctx context.Context, cmd settings.URLCommand, arg string) ([]string, error) {
	rendered, err := cmd.Render(arg)
	if err != nil {
		return nil, err
	}
	target, err := normalizeURL(rendered)
	if err != nil {
		return nil, err
	}

	resp, cancel, err := f.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	body, err := decodedBody(resp)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, m := range cmd.Filter.FindAllStringSubmatch(body, -1) {
		capture := m[0]
		if len(m) > 1 {
			capture = m[1]
		}
		if capture = strings.TrimSpace(capture); capture != "" {
			out = append(out, capture)
		}
	}
	return out, nil
}

// get issues a GET bounded by the fetcher timeout. The returned cancel must
// be called once the body is consumed.
func (f *Fetcher) get(ctx context.Context, target string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, cancel, nil
}

func extractTitle(resp *http.Response) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		r, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
		if err != nil {
			return "", fmt.Errorf("decode charset: %w", err)
		}
		doc, err := goquery.NewDocumentFromReader(r)
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}
		return doc.Find("title").First().Text(), nil

	case isFeed(mediaType):
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("parse feed: %w", err)
		}
		return feed.Title, nil

	default:
		return "", ErrNoTitle
	}
}

func isFeed(mediaType string) bool {
	switch mediaType {
	case "application/rss+xml", "application/atom+xml", "application/xml", "text/xml":
		return true
	}
	return false
}

func decodedBody(resp *http.Response) (string, error) {
	r, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// normalizeURL accepts http and https URLs and converts the host to its ASCII form.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			host = "[" + host + "]"
		}
	} else if host, err = idna.Lookup.ToASCII(host); err != nil {
		return "", fmt.Errorf("normalize host: %w", err)
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	u.Host = host
	return u.String(), nil
}

// CleanTitle collapses whitespace and truncates to MaxTitleBytes on a rune boundary.
func CleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= MaxTitleBytes {
		return s
	}
	cut := MaxTitleBytes - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
