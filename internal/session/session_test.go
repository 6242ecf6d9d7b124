package session

import (
	"testing"

	"github.com/use-agent/adscraper/internal/traffic"
	"github.com/use-agent/adscraper/internal/validator"
)

func TestFletchIDsSatisfied(t *testing.T) {
	scripts := []traffic.ScriptResponse{
		{URL: "https://cdn.example.com/a.js?fletch-render-1=1"},
		{URL: "https://cdn.example.com/b.js?fletch-render-2=1"},
	}
	if !fletchIDsSatisfied([]string{"1", "2"}, scripts) {
		t.Fatal("expected satisfied when every expected id has a script")
	}
	if fletchIDsSatisfied([]string{"1", "3"}, scripts) {
		t.Fatal("expected unsatisfied when an expected id is missing")
	}
	if !fletchIDsSatisfied(nil, scripts) {
		t.Fatal("expected vacuously satisfied with no expected ids")
	}
}

func TestSearchContainsCreative(t *testing.T) {
	search := []byte(`{"1":[{"2":"CR123"}]}`)
	if !searchContainsCreative(search, "CR123") {
		t.Fatal("expected search to be reported as containing the creative")
	}
	if searchContainsCreative(search, "CR999") {
		t.Fatal("expected search to not contain an unrelated creative id")
	}
}

func TestOutcomeToResultFailure(t *testing.T) {
	res := outcomeToResult("42", validator.Outcome{Success: false, Errors: []string{"Creative not identified"}})
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.ErrorMessage != "Creative not identified" {
		t.Fatalf("got %q", res.ErrorMessage)
	}
}

func TestOutcomeToResultSuccess(t *testing.T) {
	res := outcomeToResult("42", validator.Outcome{
		Success: true, Videos: []string{"rkXH2aDmhDQ"}, AppStoreID: "1435281792", Method: "api",
	})
	if !res.Success || len(res.VideoIDs) != 1 || res.AppStoreID != "1435281792" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTransparencyURL(t *testing.T) {
	got := TransparencyURL("https://example.com/", "AR1", "CR1")
	want := "https://example.com/advertiser/AR1/creative/CR1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
