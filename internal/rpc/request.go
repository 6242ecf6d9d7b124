package rpc

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// innerPayloadParam is the url-encoded form field carrying the inner JSON
// document. The exact parameter name, like the field numbers in Schema, is
// observational; it lives in one place so a surface change touches one
// constant.
const innerPayloadParam = "f.req"

// BuildLookupBody renders the url-encoded body for a GetCreativeById call,
// shaped per schema: {"1":"<advertiser_id>","2":"<creative_id>","5":{"2":1,"3":1,"4":1}}
func BuildLookupBody(schema Schema, advertiserID, creativeID string) (string, error) {
	inner := map[string]any{
		schema.AdvertiserIDField: advertiserID,
		schema.CreativeIDField:   creativeID,
		schema.OptionsField: map[string]int{
			schema.OptionSubFieldA: 1,
			schema.OptionSubFieldB: 1,
			schema.OptionSubFieldC: 1,
		},
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return "", fmt.Errorf("rpc: marshal lookup body: %w", err)
	}

	v := url.Values{}
	v.Set(innerPayloadParam, string(raw))
	return v.Encode(), nil
}

// Headers builds the required headers for a lookup/search RPC call:
// content-type, x-same-domain, accept-encoding, origin, and referer (the
// creative's transparency URL).
func Headers(origin, referer string) map[string]string {
	return map[string]string{
		"content-type":     "application/x-www-form-urlencoded",
		"x-same-domain":    "1",
		"accept-encoding":  "gzip, deflate, br",
		"origin":           origin,
		"referer":          referer,
	}
}
