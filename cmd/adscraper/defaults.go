package main

import "regexp"

// defaultTrackerPatterns matches third-party tracker/analytics domains that
// the Route Interceptor always blocks — the transparency surface itself is
// never in this list.
func defaultTrackerPatterns() []*regexp.Regexp {
	raw := []string{
		`doubleclick\.net`,
		`google-analytics\.com`,
		`googletagmanager\.com`,
		`googlesyndication\.com`,
		`facebook\.net`,
		`scorecardresearch\.com`,
	}
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// defaultCacheableScriptPattern matches creative-script CDN URLs carrying
// the "fletch-render-<id>" query marker, the cache/bypass-eligible asset
// class.
func defaultCacheableScriptPattern() *regexp.Regexp {
	return regexp.MustCompile(`fletch-render-`)
}

// defaultRPCPattern matches the lookup and search RPC endpoints whose
// responses the session captures for the Extractor and the bad_ad
// cross-check.
func defaultRPCPattern() *regexp.Regexp {
	return regexp.MustCompile(`/anji/_/rpc/(LookupService|SearchService)/`)
}
