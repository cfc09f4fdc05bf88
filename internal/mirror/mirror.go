// Package mirror downloads beatmapset archives from a fixed set of public
// mirrors, trying each in turn until one returns a valid archive.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/osumirror/mirror/internal/httpclient"
	"github.com/osumirror/mirror/internal/metrics"
	"github.com/osumirror/mirror/internal/safeurl"
)

var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// ErrAllMirrorsFailed is returned when every candidate mirror rejected or
// failed a download attempt.
var ErrAllMirrorsFailed = errors.New("mirror: all mirrors failed to provide beatmapset")

const (
	probeTimeout = 5 * time.Second
	stickyTTL    = 20 * time.Second
	userAgent    = "osu-mirror-rs/1.0"
)

// Engine downloads archives via the candidate mirror list, remembering the
// last mirror that succeeded so subsequent downloads try it first.
type Engine struct {
	client *http.Client

	mu     sync.Mutex
	last   string
	lastAt time.Time
}

// New builds an Engine. Each mirror attempt gets a 5s deadline covering the
// whole request, headers and body alike — a mirror that accepts the
// connection and then stalls is rejected and failed over to the next
// candidate exactly as fast as one that refuses the connection outright.
func New() *Engine {
	return &Engine{
		client: &http.Client{Timeout: probeTimeout},
	}
}

// candidateURLs returns the fixed, ordered list of mirror URLs for a given
// set id, exactly as original_source/src/api/download.rs builds them.
func candidateURLs(id int64, noVideo bool) []string {
	nv := "0"
	if noVideo {
		nv = "1"
	}
	urls := []string{
		fmt.Sprintf("https://api.nerinyan.moe/d/%d?nv=%s", id, nv),
		fmt.Sprintf("https://catboy.best/d/%d?nv=%s", id, nv),
		fmt.Sprintf("https://osu.direct/api/d/%d?nv=%s", id, nv),
	}
	if noVideo {
		urls = append(urls, fmt.Sprintf("https://beatconnect.io/b/%d?novideo=1", id))
	} else {
		urls = append(urls, fmt.Sprintf("https://beatconnect.io/b/%d", id))
	}
	return urls
}

// orderedURLs moves the sticky mirror (if still within its TTL) to the
// front of the candidate list without duplicating it.
func (e *Engine) orderedURLs(id int64, noVideo bool) []string {
	urls := candidateURLs(id, noVideo)

	e.mu.Lock()
	sticky := e.last
	fresh := sticky != "" && time.Since(e.lastAt) < stickyTTL
	e.mu.Unlock()

	if !fresh {
		return urls
	}

	ordered := make([]string, 0, len(urls))
	ordered = append(ordered, sticky)
	for _, u := range urls {
		if u != sticky {
			ordered = append(ordered, u)
		}
	}
	return ordered
}

func (e *Engine) remember(url string) {
	e.mu.Lock()
	e.last = url
	e.lastAt = time.Now()
	e.mu.Unlock()
}

// Download fetches the archive for id, trying the sticky mirror (if fresh)
// first, then the fixed candidate list in order. It returns
// ErrAllMirrorsFailed if every candidate rejected the request.
func (e *Engine) Download(ctx context.Context, id int64, noVideo bool) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.MirrorDownloadDuration.Observe(time.Since(start).Seconds()) }()

	for _, u := range e.orderedURLs(id, noVideo) {
		data, ok := e.tryOnce(ctx, u)
		metrics.MirrorDownloads.WithLabelValues(mirrorHost(u), outcomeLabel(ok)).Inc()
		if ok {
			e.remember(u)
			return data, nil
		}
	}
	return nil, ErrAllMirrorsFailed
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "rejected"
}

func mirrorHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	return u.Host
}

// tryOnce attempts a single mirror. Any network error, 5xx response, or
// non-ZIP body is treated as a rejection (ok=false), not a fatal error —
// the caller moves on to the next candidate. 4xx responses are also
// rejected, since a mirror returning "not found" should not abort the
// whole failover chain.
func (e *Engine) tryOnce(ctx context.Context, mirrorURL string) ([]byte, bool) {
	if !safeurl.IsHTTPOrHTTPS(mirrorURL) {
		return nil, false
	}

	// Cap concurrent in-flight requests per mirror host: a burst of cache
	// misses for different beatmapsets must not hammer one mirror at once.
	release := httpclient.GlobalHostSem.Acquire(mirrorURL)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirrorURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}

	if !bytes.HasPrefix(body, zipMagic) {
		return nil, false
	}

	return body, true
}
