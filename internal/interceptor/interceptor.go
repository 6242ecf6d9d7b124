// Package interceptor implements the Route Interceptor: on every
// outbound browser request it decides whether to block, serve from cache,
// pass through, or bypass the proxy. It is built the same way the teacher's
// scraper/hijack.go mounts a single catch-all HijackRequests route and runs
// the router in its own goroutine, stopped by the caller via router.Stop().
package interceptor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/adscraper/internal/cachestore"
	"github.com/use-agent/adscraper/internal/metrics"
	"github.com/use-agent/adscraper/internal/traffic"
)

// DirectFetcher fetches a URL bypassing the configured proxy.
// internal/directclient implements this.
type DirectFetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// blockedResourceTypes are always blocked regardless of pattern matching.
var blockedResourceTypes = map[proto.NetworkResourceType]struct{}{
	proto.NetworkResourceTypeImage:      {},
	proto.NetworkResourceTypeMedia:      {},
	proto.NetworkResourceTypeFont:       {},
	proto.NetworkResourceTypeStylesheet: {},
}

// Config names the URL patterns that drive the decision table.
type Config struct {
	// TrackerPatterns match tracker/ads URLs, which are always blocked.
	TrackerPatterns []*regexp.Regexp
	// CacheableScript matches creative-script bodies eligible for the cache
	// + proxy-bypass path.
	CacheableScript *regexp.Regexp
	// RPCEndpoint matches the lookup RPC carrying the GetCreativeById/
	// SearchCreatives response.
	RPCEndpoint *regexp.Regexp
	// PartialProxy selects the bypass (true) vs full-proxy (false) mode for
	// cacheable scripts on a cache miss.
	PartialProxy bool
}

// Stats is the per-session cache hit/miss/bytes-saved accounting the
// interceptor accumulates.
type Stats struct {
	Hits       int64
	Misses     int64
	BytesSaved int64
}

// Interceptor mounts the hijack route and applies the decision table.
type Interceptor struct {
	cfg     Config
	cache   *cachestore.Store
	tracker *traffic.Tracker
	direct  DirectFetcher

	mu    sync.Mutex
	stats Stats
}

// New creates an Interceptor. cache and tracker are shared with the owning
// session; direct may be nil if partial-proxy mode is never used.
func New(cfg Config, cache *cachestore.Store, tracker *traffic.Tracker, direct DirectFetcher) *Interceptor {
	return &Interceptor{cfg: cfg, cache: cache, tracker: tracker, direct: direct}
}

// Attach installs the interceptor's hijack route on page and starts the
// router in its own goroutine (rod.HijackRouter.Run blocks). The caller must
// defer router.Stop().
func (ic *Interceptor) Attach(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	_ = router.Add("*", "", ic.handle)
	go router.Run()
	return router
}

// ResetStats zeroes the hit/miss/bytes-saved counters. Called once the
// head-of-batch navigation completes so tail-item bypass savings are
// measured independently.
func (ic *Interceptor) ResetStats() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.stats = Stats{}
}

// Stats returns a snapshot of the accumulated cache statistics.
func (ic *Interceptor) Stats() Stats {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.stats
}

func (ic *Interceptor) recordHit(bytesSaved int64) {
	ic.mu.Lock()
	ic.stats.Hits++
	ic.stats.BytesSaved += bytesSaved
	ic.mu.Unlock()
	metrics.RecordCacheHit(bytesSaved)
}

func (ic *Interceptor) recordMiss() {
	ic.mu.Lock()
	ic.stats.Misses++
	ic.mu.Unlock()
	metrics.RecordCacheMiss()
}

// handle is the single hijack callback implementing the route decision
// table.
func (ic *Interceptor) handle(h *rod.Hijack) {
	reqURL := h.Request.URL().String()
	resourceType := h.Request.Type()

	// Row 1: blocked resource types never reach the network.
	if _, blocked := blockedResourceTypes[resourceType]; blocked {
		ic.tracker.RecordBlocked(0)
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	// Row 2: tracker/ads patterns, regardless of resource type.
	for _, p := range ic.cfg.TrackerPatterns {
		if p.MatchString(reqURL) {
			ic.tracker.RecordBlocked(0)
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
	}

	// Rows 3-4: cacheable script bodies.
	if ic.cfg.CacheableScript != nil && ic.cfg.CacheableScript.MatchString(reqURL) {
		ic.handleCacheableScript(h, reqURL)
		return
	}

	// Row 5: RPC endpoint carrying the lookup response — pass through and
	// capture the body for the extractor.
	if ic.cfg.RPCEndpoint != nil && ic.cfg.RPCEndpoint.MatchString(reqURL) {
		ic.passThroughAndCapture(h, reqURL, true)
		return
	}

	// Row 6: otherwise, pass through untouched.
	ic.tracker.RecordRequest(string(resourceType), requestBytes(h))
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

func (ic *Interceptor) handleCacheableScript(h *rod.Hijack, reqURL string) {
	if a, ok := ic.cache.Load(reqURL); ok {
		ic.recordHit(a.Size)
		if a.ContentType != "" {
			h.Response.SetHeader("Content-Type", a.ContentType)
		}
		h.Response.SetBody(a.Body)
		ic.tracker.AddScriptResponse(reqURL, string(a.Body))
		return
	}
	ic.recordMiss()

	if ic.cfg.PartialProxy && ic.direct != nil {
		resourceType := string(h.Request.Type())
		ic.tracker.RecordRequest(resourceType, requestBytes(h))
		body, contentType, err := ic.direct.Fetch(h.Request.Context(), reqURL)
		if err == nil {
			ic.tracker.RecordResponse(resourceType, int64(len(body)))
			if saveErr := ic.cache.Save(reqURL, body, contentType, "", ""); saveErr != nil {
				slog.Debug("cache save skipped", "url", reqURL, "error", saveErr)
			}
			if contentType != "" {
				h.Response.SetHeader("Content-Type", contentType)
			}
			h.Response.SetBody(body)
			ic.tracker.AddScriptResponse(reqURL, string(body))
			return
		}
		slog.Warn("direct bypass fetch failed, falling back to proxied pass-through",
			"url", reqURL, "error", err)
	}

	// Full-proxy mode, or bypass fetch failed: let the browser fetch it
	// (through the proxy), then capture the body into the cache.
	ic.passThroughAndCapture(h, reqURL, false)
}

// passThroughAndCapture continues the request via the real network, loads
// the response body for inspection, and routes it to either the API
// response sequence (isAPI) or the script cache + script response sequence.
func (ic *Interceptor) passThroughAndCapture(h *rod.Hijack, reqURL string, isAPI bool) {
	resourceType := string(h.Request.Type())
	ic.tracker.RecordRequest(resourceType, requestBytes(h))

	h.ContinueRequest(&proto.FetchContinueRequest{})
	if err := h.LoadResponse(http.DefaultClient, true); err != nil {
		ic.tracker.RecordFailure(reqURL, "load_response", err.Error())
		return
	}

	body := h.Response.Body()
	ic.tracker.RecordResponse(resourceType, responseBytes(h, body))
	if isAPI {
		ic.tracker.AddAPIResponse(reqURL, json.RawMessage(body))
		return
	}

	contentType := h.Response.Headers().Get("Content-Type")
	if saveErr := ic.cache.Save(reqURL, []byte(body), contentType, "", ""); saveErr != nil {
		slog.Debug("cache save skipped", "url", reqURL, "error", saveErr)
	}
	ic.tracker.AddScriptResponse(reqURL, body)
}

// requestBytes estimates outgoing bytes for the intercepted request.
func requestBytes(h *rod.Hijack) int64 {
	return int64(len(h.Request.Body()))
}

// responseBytes prefers the Content-Length header when present, falling
// back to the loaded body's length.
func responseBytes(h *rod.Hijack, body string) int64 {
	if cl := h.Response.Headers().Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n
		}
	}
	return int64(len(body))
}
