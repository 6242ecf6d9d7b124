package validator

import (
	"strings"
	"testing"

	"github.com/use-agent/adscraper/internal/extractor"
)

func TestValidateNoCreativeID(t *testing.T) {
	out := Validate(Expected{}, 0, extractor.Result{}, nil)
	if out.Success {
		t.Fatal("expected failure without a real creative id")
	}
	if len(out.Errors) != 1 || out.Errors[0] != "Creative not identified" {
		t.Fatalf("unexpected errors: %v", out.Errors)
	}
}

func TestValidateNoScriptsReceived(t *testing.T) {
	ext := extractor.Result{RealCreativeID: "123456789012"}
	out := Validate(Expected{FletchRenderIDs: []string{"1", "2"}}, 0, ext, nil)
	if out.Success {
		t.Fatal("expected failure when scripts were expected but none arrived")
	}
	if !strings.Contains(out.Errors[0], "but none received") {
		t.Fatalf("unexpected error: %v", out.Errors)
	}
}

func TestValidateIncomplete(t *testing.T) {
	ext := extractor.Result{RealCreativeID: "123456789012"}
	out := Validate(Expected{FletchRenderIDs: []string{"1", "2", "3"}}, 2, ext, nil)
	if out.Success {
		t.Fatal("expected failure on partial script receipt")
	}
	if !strings.Contains(out.Errors[0], "incomplete: 2/3") {
		t.Fatalf("unexpected error: %v", out.Errors)
	}
}

func TestValidateStaticSuccess(t *testing.T) {
	static := &extractor.StaticInfo{AppStoreID: "1435281792"}
	out := Validate(Expected{}, 0, extractor.Result{RealCreativeID: "123456789012"}, static)
	if !out.Success || out.Method != "static" || out.AppStoreID != "1435281792" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestValidateSuccess(t *testing.T) {
	ext := extractor.Result{
		RealCreativeID: "123456789012",
		Videos:         []string{"rkXH2aDmhDQ"},
		AppStoreID:     "1435281792",
		Method:         "api",
	}
	out := Validate(Expected{FletchRenderIDs: []string{"1"}}, 1, ext, nil)
	if !out.Success || len(out.Videos) != 1 || out.AppStoreID != "1435281792" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
