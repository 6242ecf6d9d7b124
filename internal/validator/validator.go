// Package validator correlates expected vs. observed artifacts and decides
// success/failure. Its output is the sole source of truth for
// success; the scraping session layer only propagates it.
package validator

import (
	"fmt"

	"github.com/use-agent/adscraper/internal/extractor"
)

// Expected captures what the session expected to observe before running the
// Extractor.
type Expected struct {
	FletchRenderIDs []string
}

// Outcome is the validator's verdict.
type Outcome struct {
	Success bool
	Errors  []string

	Videos         []string
	AppStoreID     string
	FundedBy       string
	RealCreativeID string
	Method         string
}

// Validate applies the ordered decision rules to the extractor's output
// given what the session expected.
func Validate(expected Expected, observedScriptCount int, ext extractor.Result, static *extractor.StaticInfo) Outcome {
	var errs []string

	if ext.RealCreativeID == "" {
		errs = append(errs, "Creative not identified")
		return Outcome{Success: false, Errors: errs}
	}

	if static != nil {
		return Outcome{
			Success:    true,
			Videos:     nil,
			AppStoreID: static.AppStoreID,
			Method:     "static",
		}
	}

	expectedCount := len(expected.FletchRenderIDs)
	if expectedCount > 0 && observedScriptCount == 0 {
		errs = append(errs, fmt.Sprintf("Expected %d script bodies but none received", expectedCount))
		return Outcome{Success: false, Errors: errs}
	}

	if expectedCount > observedScriptCount {
		errs = append(errs, fmt.Sprintf("incomplete: %d/%d received", observedScriptCount, expectedCount))
		return Outcome{Success: false, Errors: errs}
	}

	return Outcome{
		Success:        true,
		Videos:         ext.Videos,
		AppStoreID:     ext.AppStoreID,
		FundedBy:       ext.FundedBy,
		RealCreativeID: ext.RealCreativeID,
		Method:         ext.Method,
	}
}
