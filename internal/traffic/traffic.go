// Package traffic implements the per-session Traffic Tracker: a
// purely observational accounting of request/response bytes, blocked URLs,
// and captured API/script bodies. It is attached to the same hijack
// callback the Route Interceptor installs (see internal/interceptor),
// since Chromium's Fetch-domain interception and Network-domain event
// listeners conflict on recent Chromium releases — the same constraint the
// teacher's scraper/page.go documents for WaitRequestIdle vs HijackRequests.
package traffic

import (
	"encoding/json"
	"sync"
)

// APIResponse is one captured response from an ad-transparency RPC endpoint.
type APIResponse struct {
	URL  string
	Body json.RawMessage
}

// ScriptResponse is one captured creative-script body.
type ScriptResponse struct {
	URL  string
	Body string
}

// FailedRequest records a request that failed outright.
type FailedRequest struct {
	URL     string
	Kind    string
	Message string
}

// ByTypeCounter accumulates request/response bytes for one resource type.
type ByTypeCounter struct {
	RequestBytes  int64
	ResponseBytes int64
}

// Summary is an immutable snapshot of a Tracker's counters.
type Summary struct {
	TotalRequestBytes  int64
	TotalResponseBytes int64
	BlockedCount       int64
	BlockedBytes       int64
	ByType             map[string]ByTypeCounter
	APIResponses       []APIResponse
	ScriptResponses    []ScriptResponse
	FailedRequests     []FailedRequest
}

// Tracker accounts for one scraping session's network traffic. It is
// created per session and discarded at session end.
type Tracker struct {
	mu sync.Mutex

	totalRequestBytes  int64
	totalResponseBytes int64
	blockedCount       int64
	blockedBytes       int64
	byType             map[string]ByTypeCounter

	apiResponses    []APIResponse
	scriptResponses []ScriptResponse
	failedRequests  []FailedRequest
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{byType: make(map[string]ByTypeCounter)}
}

// RecordRequest accounts outgoing bytes for a request of the given resource
// type, as measured by the caller. The Route Interceptor passes the request
// body length only; request headers are not counted.
func (t *Tracker) RecordRequest(resourceType string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequestBytes += bytes
	c := t.byType[resourceType]
	c.RequestBytes += bytes
	t.byType[resourceType] = c
}

// RecordResponse accounts incoming bytes for a response of the given
// resource type (Content-Length or measured body length).
func (t *Tracker) RecordResponse(resourceType string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalResponseBytes += bytes
	c := t.byType[resourceType]
	c.ResponseBytes += bytes
	t.byType[resourceType] = c
}

// RecordBlocked accounts a request that the Route Interceptor blocked before
// it reached the network.
func (t *Tracker) RecordBlocked(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockedCount++
	t.blockedBytes += bytes
}

// AddAPIResponse appends a captured ad-transparency RPC response body.
func (t *Tracker) AddAPIResponse(url string, body json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiResponses = append(t.apiResponses, APIResponse{URL: url, Body: body})
}

// AddScriptResponse appends a captured creative-script body.
func (t *Tracker) AddScriptResponse(url, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scriptResponses = append(t.scriptResponses, ScriptResponse{URL: url, Body: body})
}

// RecordFailure appends a failed-request diagnostic.
func (t *Tracker) RecordFailure(url, kind, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedRequests = append(t.failedRequests, FailedRequest{URL: url, Kind: kind, Message: message})
}

// APIResponses returns a snapshot of captured API responses.
func (t *Tracker) APIResponses() []APIResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]APIResponse, len(t.apiResponses))
	copy(out, t.apiResponses)
	return out
}

// ScriptResponses returns a snapshot of captured script responses.
func (t *Tracker) ScriptResponses() []ScriptResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ScriptResponse, len(t.scriptResponses))
	copy(out, t.scriptResponses)
	return out
}

// Snapshot returns an immutable copy of all counters and captured sequences.
func (t *Tracker) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	byType := make(map[string]ByTypeCounter, len(t.byType))
	for k, v := range t.byType {
		byType[k] = v
	}
	return Summary{
		TotalRequestBytes:  t.totalRequestBytes,
		TotalResponseBytes: t.totalResponseBytes,
		BlockedCount:       t.blockedCount,
		BlockedBytes:       t.blockedBytes,
		ByType:             byType,
		APIResponses:       append([]APIResponse(nil), t.apiResponses...),
		ScriptResponses:    append([]ScriptResponse(nil), t.scriptResponses...),
		FailedRequests:     append([]FailedRequest(nil), t.failedRequests...),
	}
}
