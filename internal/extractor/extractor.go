// Package extractor recovers video IDs, app-store IDs, funding strings, and
// the real creative ID from captured script/API payloads. Every
// operation here is a pure function over its inputs, mirroring the
// teacher's cleaner package (one small file per concern, no I/O) — the
// difference is this extractor works over short JSON/script fragments via
// regex token recovery rather than long-form readability distillation.
package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/adscraper/internal/traffic"
)

// Result is the extractor's output record.
type Result struct {
	Videos            []string
	AppStoreID        string
	FundedBy          string
	RealCreativeID    string
	Method            string // "api" | "frequency" | "static"
	ExtractionSuccess bool
}

// fletchRenderRe recovers the numeric fletch-render id embedded in a
// creative-script URL's query string (Glossary: Fletch-render ID).
var fletchRenderRe = regexp.MustCompile(`fletch-render-(\d+)`)

// videoIDRe matches an 11-character YouTube video id shape, anchored near a
// small set of markers that commonly precede a real video reference in a
// creative-script body (embed/watch URLs, a videoId JSON field, or a
// youtube thumbnail host) — narrowing matches beyond a bare 11-char token
// reduces accidental hits against unrelated base64-ish identifiers.
var videoIDRe = regexp.MustCompile(`(?:youtube\.com/(?:embed/|watch\?v=)|youtu\.be/|ytimg\.com/vi/|"videoId"\s*:\s*")([A-Za-z0-9_-]{11})`)

// appStoreIDRe matches a 9-10 digit app-store identifier adjacent to a
// known context marker (itunes/appstore URLs or a productId-shaped field).
var appStoreIDRe = regexp.MustCompile(`(?:itunes\.apple\.com/[^"'\s]*?/id|play\.google\.com/store/apps/details\?id=app|"appStoreId"\s*:\s*"?|"productId"\s*:\s*"?)(\d{9,10})`)

// twelveDigitRe matches the shape of a real_creative_id token, used by the
// frequency-fallback extraction path.
var twelveDigitRe = regexp.MustCompile(`\b(\d{12})\b`)

// ExtractFletchRenderID recovers the numeric id from a script URL's
// fletch-render-<id> query token, if present.
func ExtractFletchRenderID(scriptURL string) (string, bool) {
	m := fletchRenderRe.FindStringSubmatch(scriptURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExpectedFletchSet builds a lookup set from a slice of expected fletch-
// render ids.
func ExpectedFletchSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// relevantScripts filters captured script responses down to those whose
// fletch-render-<id> belongs to the expected set — this is what filters out
// decoy co-tenants served by the same surface.
func relevantScripts(scripts []traffic.ScriptResponse, expected map[string]struct{}) []traffic.ScriptResponse {
	if len(expected) == 0 {
		return nil
	}
	var out []traffic.ScriptResponse
	for _, s := range scripts {
		id, ok := ExtractFletchRenderID(s.URL)
		if !ok {
			continue
		}
		if _, belongs := expected[id]; belongs {
			out = append(out, s)
		}
	}
	return out
}

// ExtractVideoIDs recovers YouTube video id tokens from script bodies whose
// URL's fletch-render-<id> belongs to expectedFletchIDs.
func ExtractVideoIDs(scripts []traffic.ScriptResponse, expectedFletchIDs map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range relevantScripts(scripts, expectedFletchIDs) {
		for _, m := range videoIDRe.FindAllStringSubmatch(s.Body, -1) {
			id := m[1]
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ExtractAppStoreID recovers a single app-store identifier from script
// bodies filtered the same way as ExtractVideoIDs. The first match across
// the relevant scripts, in capture order, wins.
func ExtractAppStoreID(scripts []traffic.ScriptResponse, expectedFletchIDs map[string]struct{}) (string, bool) {
	for _, s := range relevantScripts(scripts, expectedFletchIDs) {
		m := appStoreIDRe.FindStringSubmatch(s.Body)
		if m == nil {
			continue
		}
		for _, group := range m[1:] {
			if group != "" {
				return group, true
			}
		}
	}
	return "", false
}

// ExtractFundedBy recovers the funding disclosure string from a stable
// field of the lookup API response.
func ExtractFundedBy(apiResponse json.RawMessage, schema ResponseSchema) (string, bool) {
	var doc any
	if err := json.Unmarshal(apiResponse, &doc); err != nil {
		return "", false
	}
	return getString(doc, schema.FundedByPath)
}

// ExtractRealCreativeID recovers the 12-digit real_creative_id. It first
// tries the API response field, preferring "API-first, no fallback" when
// the API method succeeds — the frequency fallback only runs when the API
// field itself is absent, not merely when it yields zero videos (the
// Validator surfaces that empty case instead).
func ExtractRealCreativeID(apiResponse json.RawMessage, schema ResponseSchema, scriptURLs []string) (id string, method string, ok bool) {
	var doc any
	if err := json.Unmarshal(apiResponse, &doc); err == nil {
		if s, found := getString(doc, schema.RealCreativeIDPath); found && twelveDigitRe.MatchString(s) {
			return twelveDigitRe.FindString(s), "api", true
		}
	}

	counts := make(map[string]int)
	for _, u := range scriptURLs {
		for _, m := range twelveDigitRe.FindAllString(u, -1) {
			counts[m]++
		}
	}
	best, bestCount := "", 0
	for candidate, count := range counts {
		if count > bestCount {
			best, bestCount = candidate, count
		}
	}
	if best != "" {
		return best, "frequency", true
	}
	return "", "", false
}

// IsEmptyLookup reports whether a GetCreativeById response is "empty" — the
// condition that, combined with a SearchCreatives cross-check not containing
// the creative, triggers the bad_ad early exit at head-of-batch.
func IsEmptyLookup(apiResponse json.RawMessage, schema ResponseSchema) bool {
	var doc any
	if err := json.Unmarshal(apiResponse, &doc); err != nil {
		return true
	}
	_, found := getPath(doc, schema.EmptyMarkerPath)
	return !found
}

// ExtractExpectedFletchIDs walks the lookup response's asset array and
// collects each entry's fletch-render id, building the expected set the
// Extractor and smart-wait loop filter decoy script bodies against.
func ExtractExpectedFletchIDs(apiResponse json.RawMessage, schema ResponseSchema) []string {
	var doc any
	if err := json.Unmarshal(apiResponse, &doc); err != nil {
		return nil
	}
	v, ok := getPath(doc, schema.AssetsPath)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []string
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := entry[schema.AssetFletchRenderIDField]
		if !ok {
			continue
		}
		switch t := raw.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconvItoa(t))
		}
	}
	return out
}

func strconvItoa(f float64) string {
	return fmt.Sprintf("%d", int64(f))
}

// AssetRef pairs an asset's fletch-render id with its script-body URL, as
// enumerated by the lookup response.
type AssetRef struct {
	FletchRenderID string
	URL            string
}

// ExtractAssetRefs walks the lookup response's asset array and returns
// each entry's fletch-render id and script URL, the set a tail item's
// parallel fetch operates over.
func ExtractAssetRefs(apiResponse json.RawMessage, schema ResponseSchema) []AssetRef {
	var doc any
	if err := json.Unmarshal(apiResponse, &doc); err != nil {
		return nil
	}
	v, ok := getPath(doc, schema.AssetsPath)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []AssetRef
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, ok := entry[schema.AssetURLField].(string)
		if !ok || url == "" {
			continue
		}
		var fletchID string
		switch t := entry[schema.AssetFletchRenderIDField].(type) {
		case string:
			fletchID = t
		case float64:
			fletchID = strconvItoa(t)
		}
		out = append(out, AssetRef{FletchRenderID: fletchID, URL: url})
	}
	return out
}

// StaticInfo describes a static-cached creative.
type StaticInfo struct {
	CachedURL  string
	AppStoreID string
}

// DetectStatic classifies an API response as "static cached" when it marks
// the creative as a pre-rendered image/HTML ad with no dynamic script body
// required. When the response embeds a small HTML snippet at the cached-URL
// field, goquery confirms it actually contains an image/link element rather
// than trusting the flag alone.
func DetectStatic(apiResponse json.RawMessage, schema ResponseSchema) (StaticInfo, bool) {
	var doc any
	if err := json.Unmarshal(apiResponse, &doc); err != nil {
		return StaticInfo{}, false
	}
	if !getBool(doc, schema.StaticFlagPath) {
		return StaticInfo{}, false
	}

	cachedURL, _ := getString(doc, schema.StaticCachedURLPath)
	appStoreID, _ := getString(doc, schema.StaticAppStoreIDPath)

	if looksLikeHTMLSnippet(cachedURL) && !confirmsStaticMarkup(cachedURL) {
		return StaticInfo{}, false
	}

	return StaticInfo{CachedURL: cachedURL, AppStoreID: appStoreID}, true
}

func looksLikeHTMLSnippet(s string) bool {
	return len(s) > 0 && s[0] == '<'
}

// confirmsStaticMarkup uses goquery/cascadia selectors to check that an
// embedded HTML snippet actually contains an image or anchor element,
// guarding against a stale/empty flag producing a false static
// classification.
func confirmsStaticMarkup(snippet string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return false
	}
	sel, err := cascadia.ParseGroup("img, a[href]")
	if err != nil {
		return false
	}
	return doc.FindMatcher(sel).Length() > 0
}
