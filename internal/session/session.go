// Package session implements the Scraping Session — the heart of
// the pipeline. It orchestrates one browser context across a whole batch:
// a full navigation for the head-of-batch item (mounting the Route
// Interceptor and Traffic Tracker the way the teacher's doScrapeRod wires
// stealth, hijack, and navigation in that order) followed by API-only
// replay for the remaining items, reusing the head's cookies and a direct
// client built once per session.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/adscraper/internal/apperr"
	"github.com/use-agent/adscraper/internal/cachestore"
	"github.com/use-agent/adscraper/internal/directclient"
	"github.com/use-agent/adscraper/internal/extractor"
	"github.com/use-agent/adscraper/internal/interceptor"
	"github.com/use-agent/adscraper/internal/metrics"
	"github.com/use-agent/adscraper/internal/models"
	"github.com/use-agent/adscraper/internal/rpc"
	"github.com/use-agent/adscraper/internal/traffic"
	"github.com/use-agent/adscraper/internal/validator"
)

// Config controls a Session's navigation/wait/RPC behavior.
type Config struct {
	// OriginURL is the transparency surface's scheme+host, used both to
	// build creative URLs and as the RPC "origin" header.
	OriginURL string
	// RPCBaseURL is usually equal to OriginURL; kept distinct in case the
	// RPC surface is proxied through a different host.
	RPCBaseURL string

	PageLoadTimeout  time.Duration
	SmartWaitPoll    time.Duration
	SearchCrossCheck time.Duration

	PartialProxy bool
	UserAgent    string
}

// Session owns one browser page (and its hijack router) for the duration
// of a batch.
type Session struct {
	page        *rod.Page
	router      *rod.HijackRouter
	tracker     *traffic.Tracker
	interceptor *interceptor.Interceptor
	direct      *directclient.Client

	cfg        Config
	reqSchema  rpc.Schema
	respSchema extractor.ResponseSchema
	limiter    *rpc.Limiter
}

// New opens a stealth-augmented page on browser, attaches the Route
// Interceptor and Traffic Tracker, and returns a Session ready to run one
// batch. direct may be nil when partial-proxy mode is disabled.
func New(browser *rod.Browser, cache *cachestore.Store, icCfg interceptor.Config, cfg Config,
	reqSchema rpc.Schema, respSchema extractor.ResponseSchema, limiter *rpc.Limiter, direct *directclient.Client) (*Session, error) {

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, apperr.New(apperr.CodeBrowserCrash, "open stealth page", err)
	}
	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			slog.Warn("failed to override user agent", "error", err)
		}
	}

	tracker := traffic.New()
	ic := interceptor.New(icCfg, cache, tracker, direct)
	router := ic.Attach(page)

	return &Session{
		page:        page,
		router:      router,
		tracker:     tracker,
		interceptor: ic,
		direct:      direct,
		cfg:         cfg,
		reqSchema:   reqSchema,
		respSchema:  respSchema,
		limiter:     limiter,
	}, nil
}

// TrafficBytes returns the cumulative incoming (response) and outgoing
// (request) bytes this session's Traffic Tracker has observed so far.
func (s *Session) TrafficBytes() (bytesIn, bytesOut int64) {
	if s.tracker == nil {
		return 0, 0
	}
	snap := s.tracker.Snapshot()
	return snap.TotalResponseBytes, snap.TotalRequestBytes
}

// Close tears down the session's browser resources and direct client, in
// that order, regardless of how the batch ended.
func (s *Session) Close() {
	if s.tracker != nil {
		snap := s.tracker.Snapshot()
		metrics.TrafficRequestBytes.Add(float64(snap.TotalRequestBytes))
		metrics.TrafficResponseBytes.Add(float64(snap.TotalResponseBytes))
		metrics.TrafficBlockedBytes.Add(float64(snap.BlockedBytes))
	}
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			slog.Debug("hijack router stop", "error", err)
		}
	}
	if s.direct != nil {
		s.direct.Close()
	}
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			slog.Debug("page close", "error", err)
		}
	}
}

// RunBatch processes entry 0 with a full navigation and entries 1..N-1 as
// API-only replay, always returning len(batch) results in the same order
// — even when the head fails or
// is classified bad_ad, every remaining entry still gets a result record.
func (s *Session) RunBatch(ctx context.Context, batch []models.QueueEntry) []models.ItemResult {
	results := make([]models.ItemResult, len(batch))
	if len(batch) == 0 {
		return results
	}

	headResult, earlyExit := s.runHead(ctx, batch[0])
	results[0] = headResult

	if earlyExit {
		for i := 1; i < len(batch); i++ {
			results[i] = models.NewFailedResult(batch[i].ID, headResult.ErrorMessage)
		}
		return results
	}

	for i := 1; i < len(batch); i++ {
		results[i] = s.runTail(ctx, batch[i])
	}
	return results
}

// runHead performs the full HTML navigation for the batch's item 0. earlyExit is true only for the bad_ad early-exit path, which
// propagates to every remaining item without running them at all.
func (s *Session) runHead(ctx context.Context, entry models.QueueEntry) (result models.ItemResult, earlyExit bool) {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
	defer cancel()

	creativeURL := TransparencyURL(s.cfg.OriginURL, entry.AdvertiserID, entry.CreativeID)
	page := s.page.Context(navCtx)

	if err := page.Navigate(creativeURL); err != nil {
		return models.NewFailedResult(entry.ID, fmt.Sprintf("navigation failed: %v", err)), false
	}
	if err := page.WaitDOMStable(time.Second, 0.05); err != nil {
		slog.Debug("DOM stabilization wait returned early", "creative_id", entry.CreativeID, "error", err)
	}

	lookup, search, static, expectedFletch, err := s.smartWait(navCtx)
	if err != nil {
		return models.NewFailedResult(entry.ID, err.Error()), false
	}

	if lookup == nil || extractor.IsEmptyLookup(*lookup, s.respSchema) {
		if search != nil && !searchContainsCreative(*search, entry.CreativeID) {
			return models.NewFailedResult(entry.ID,
				"Creative not found in API - broken/deleted creative page"), true
		}
		return models.NewFailedResult(entry.ID, "Expected lookup response but none received"), false
	}

	ext, outcome := s.extractAndValidate(*lookup, expectedFletch, static)
	result = outcomeToResult(entry.ID, outcome)
	_ = ext

	s.interceptor.ResetStats()
	return result, false
}

// smartWait polls captured traffic until the lookup response has arrived
// and every expected fletch-render id is satisfied, or a static
// classification makes scripts unnecessary, or the lookup is empty and the
// search cross-check window has elapsed, or navCtx times out.
func (s *Session) smartWait(navCtx context.Context) (lookup, search *json.RawMessage, static *extractor.StaticInfo, expectedFletch []string, err error) {
	poll := s.cfg.SmartWaitPoll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var emptyLookupSeenAt time.Time

	for {
		for _, r := range s.tracker.APIResponses() {
			body := r.Body
			if lookup == nil && strings.Contains(r.URL, rpc.LookupPath) {
				lookup = &body
				expectedFletch = extractor.ExtractExpectedFletchIDs(body, s.respSchema)
				if st, ok := extractor.DetectStatic(body, s.respSchema); ok {
					static = &st
				}
			}
			if search == nil && strings.Contains(r.URL, rpc.SearchPath) {
				search = &body
			}
		}

		if lookup != nil {
			if extractor.IsEmptyLookup(*lookup, s.respSchema) {
				if emptyLookupSeenAt.IsZero() {
					emptyLookupSeenAt = time.Now()
				}
				if search != nil || time.Since(emptyLookupSeenAt) >= s.cfg.SearchCrossCheck {
					return lookup, search, static, expectedFletch, nil
				}
			} else if static != nil || fletchIDsSatisfied(expectedFletch, s.tracker.ScriptResponses()) {
				return lookup, search, static, expectedFletch, nil
			}
		}

		select {
		case <-navCtx.Done():
			return lookup, search, static, expectedFletch,
				apperr.New(apperr.CodeTimeout, "smart-wait: TimeoutError waiting for content", navCtx.Err())
		case <-ticker.C:
		}
	}
}

// fletchIDsSatisfied reports whether every expected fletch-render id has a
// corresponding captured script response.
func fletchIDsSatisfied(expected []string, scripts []traffic.ScriptResponse) bool {
	if len(expected) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(scripts))
	for _, sc := range scripts {
		if id, ok := extractor.ExtractFletchRenderID(sc.URL); ok {
			have[id] = struct{}{}
		}
	}
	for _, id := range expected {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

// searchContainsCreative reports whether a SearchCreatives response
// mentions creativeID. The search response's exact field grammar is, like
// the lookup response's, observational — a substring check over the raw
// document is the conservative cross-check the bad_ad early exit needs
// without hard-coding an unconfirmed field path.
func searchContainsCreative(search json.RawMessage, creativeID string) bool {
	return bytes.Contains(search, []byte(creativeID))
}

// extractAndValidate runs the Extractor then the Validator over the head
// navigation's captured traffic.
func (s *Session) extractAndValidate(lookup json.RawMessage, expectedFletch []string, static *extractor.StaticInfo) (extractor.Result, validator.Outcome) {
	scripts := s.tracker.ScriptResponses()
	expectedSet := extractor.ExpectedFletchSet(expectedFletch)

	videos := extractor.ExtractVideoIDs(scripts, expectedSet)
	appStoreID, _ := extractor.ExtractAppStoreID(scripts, expectedSet)
	fundedBy, _ := extractor.ExtractFundedBy(lookup, s.respSchema)

	scriptURLs := make([]string, 0, len(scripts))
	for _, sc := range scripts {
		scriptURLs = append(scriptURLs, sc.URL)
	}
	realCreativeID, method, ok := extractor.ExtractRealCreativeID(lookup, s.respSchema, scriptURLs)
	if !ok {
		method = ""
	}

	ext := extractor.Result{
		Videos:            videos,
		AppStoreID:         appStoreID,
		FundedBy:           fundedBy,
		RealCreativeID:     realCreativeID,
		Method:             method,
		ExtractionSuccess:  realCreativeID != "",
	}

	outcome := validator.Validate(validator.Expected{FletchRenderIDs: expectedFletch}, len(scripts), ext, static)
	return ext, outcome
}

// outcomeToResult converts a Validator outcome into the per-entry record
// the Worker writes back to the queue.
func outcomeToResult(entryID string, out validator.Outcome) models.ItemResult {
	if !out.Success {
		return models.NewFailedResult(entryID, strings.Join(out.Errors, "; "))
	}
	return models.ItemResult{
		EntryID:        entryID,
		Success:        true,
		VideoIDs:       out.Videos,
		AppStoreID:     out.AppStoreID,
		FundedBy:       out.FundedBy,
		RealCreativeID: out.RealCreativeID,
		Method:         out.Method,
	}
}

// runTail issues the API-only replay for a non-head batch item: a lookup RPC from the existing page context (cookies attach
// automatically), then a parallel fetch of every referenced script.
func (s *Session) runTail(ctx context.Context, entry models.QueueEntry) models.ItemResult {
	if err := s.limiter.Wait(ctx); err != nil {
		return models.NewFailedResult(entry.ID, fmt.Sprintf("rate limiter: %v", err))
	}

	body, err := rpc.BuildLookupBody(s.reqSchema, entry.AdvertiserID, entry.CreativeID)
	if err != nil {
		return models.NewFailedResult(entry.ID, err.Error())
	}
	creativeURL := TransparencyURL(s.cfg.OriginURL, entry.AdvertiserID, entry.CreativeID)
	headers := rpc.Headers(s.cfg.OriginURL, creativeURL)

	raw, err := s.fetchViaPage(ctx, s.cfg.RPCBaseURL+rpc.LookupPath, body, headers)
	if err != nil {
		return models.NewFailedResult(entry.ID, err.Error())
	}

	if extractor.IsEmptyLookup(raw, s.respSchema) {
		return models.NewFailedResult(entry.ID, "Expected lookup response but none received")
	}

	expectedFletch := extractor.ExtractExpectedFletchIDs(raw, s.respSchema)
	var static *extractor.StaticInfo
	if st, ok := extractor.DetectStatic(raw, s.respSchema); ok {
		static = &st
	}

	var scripts []traffic.ScriptResponse
	if static == nil && len(expectedFletch) > 0 {
		refs := extractor.ExtractAssetRefs(raw, s.respSchema)
		scripts = s.fetchScripts(ctx, refs)
	}

	expectedSet := extractor.ExpectedFletchSet(expectedFletch)
	videos := extractor.ExtractVideoIDs(scripts, expectedSet)
	appStoreID, _ := extractor.ExtractAppStoreID(scripts, expectedSet)
	fundedBy, _ := extractor.ExtractFundedBy(raw, s.respSchema)

	scriptURLs := make([]string, 0, len(scripts))
	for _, sc := range scripts {
		scriptURLs = append(scriptURLs, sc.URL)
	}
	realCreativeID, method, ok := extractor.ExtractRealCreativeID(raw, s.respSchema, scriptURLs)
	if !ok {
		method = ""
	}

	ext := extractor.Result{
		Videos:            videos,
		AppStoreID:         appStoreID,
		FundedBy:           fundedBy,
		RealCreativeID:     realCreativeID,
		Method:             method,
		ExtractionSuccess:  realCreativeID != "",
	}
	outcome := validator.Validate(validator.Expected{FletchRenderIDs: expectedFletch}, len(scripts), ext, static)
	return outcomeToResult(entry.ID, outcome)
}

// fetchScripts fetches every asset's script body concurrently — all
// fetches start together and the call returns once the slowest completes,
// rather than awaiting them one at a time.
func (s *Session) fetchScripts(ctx context.Context, refs []extractor.AssetRef) []traffic.ScriptResponse {
	slots := make([]traffic.ScriptResponse, len(refs))
	g, gctx := errgroup.WithContext(ctx)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			body, err := s.fetchScriptBody(gctx, ref.URL)
			if err != nil {
				s.tracker.RecordFailure(ref.URL, "script_fetch", err.Error())
				return nil
			}
			slots[i] = traffic.ScriptResponse{URL: ref.URL, Body: body}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]traffic.ScriptResponse, 0, len(slots))
	for _, r := range slots {
		if r.URL != "" {
			out = append(out, r)
		}
	}
	return out
}

// fetchScriptBody fetches one script URL, via the direct (proxy-bypassing)
// client in partial-proxy mode or via the browser's own page context
// otherwise.
func (s *Session) fetchScriptBody(ctx context.Context, url string) (string, error) {
	if s.cfg.PartialProxy && s.direct != nil {
		body, _, err := s.direct.Fetch(ctx, url)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
	raw, err := s.fetchViaPage(ctx, url, "", map[string]string{"accept-encoding": "gzip, deflate, br"})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// fetchScriptInPageJS performs a fetch() from inside the page so browser
// cookies attach automatically; used for the lookup RPC and, in full-proxy
// mode, for script bodies too.
const fetchScriptInPageJS = `(url, body, headers) => fetch(url, {
	method: body ? 'POST' : 'GET',
	body: body || undefined,
	headers: headers || {},
	credentials: 'include',
}).then(r => r.text())`

// fetchViaPage runs an in-page fetch() and returns the raw response body.
// rod hands the returned JS value back as a ysmood/gson value, whose Str()
// decodes it without a manual type assertion.
func (s *Session) fetchViaPage(ctx context.Context, url, body string, headers map[string]string) (json.RawMessage, error) {
	page := s.page.Context(ctx)
	res, err := page.Eval(fetchScriptInPageJS, url, body, headers)
	if err != nil {
		return nil, apperr.New(apperr.CodeRPC, fmt.Sprintf("in-page fetch failed for %s", url), err)
	}
	return json.RawMessage(res.Value.Str()), nil
}

// TransparencyURL builds the creative's transparency-surface URL from the
// origin and the creative's identity.
func TransparencyURL(origin, advertiserID, creativeID string) string {
	return fmt.Sprintf("%s/advertiser/%s/creative/%s", strings.TrimRight(origin, "/"), advertiserID, creativeID)
}
