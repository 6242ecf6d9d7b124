// Package rpc builds the wire requests for the ad-transparency surface's
// lookup and search RPCs and paces them with a rate limiter, the way the
// teacher's api/middleware/ratelimit.go paces inbound API traffic with
// golang.org/x/time/rate.
package rpc

// Schema names the observed field-number grammar for the GetCreativeById
// request body. These field numbers are observational and may differ per
// surface version — they MUST be loaded from this adapter rather than
// hard-coded at call sites, so a surface change is a one-struct edit, not
// a grep-and-replace.
type Schema struct {
	AdvertiserIDField string // default "1"
	CreativeIDField   string // default "2"
	OptionsField      string // default "5"
	OptionSubFieldA   string // default "2"
	OptionSubFieldB   string // default "3"
	OptionSubFieldC   string // default "4"
}

// DefaultSchema returns the field-number grammar observed at the time this
// module was written. Callers that need to track a surface change
// should construct a Schema with different field names instead of editing
// call sites.
func DefaultSchema() Schema {
	return Schema{
		AdvertiserIDField: "1",
		CreativeIDField:   "2",
		OptionsField:      "5",
		OptionSubFieldA:   "2",
		OptionSubFieldB:   "3",
		OptionSubFieldC:   "4",
	}
}

const (
	// LookupPath is the GetCreativeById RPC path.
	LookupPath = "/anji/_/rpc/LookupService/GetCreativeById"
	// SearchPath is the SearchCreatives RPC path, used only as the bad_ad
	// cross-check.
	SearchPath = "/anji/_/rpc/SearchService/SearchCreatives"
)
