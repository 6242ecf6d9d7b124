package extractor

import (
	"testing"

	"github.com/use-agent/adscraper/internal/traffic"
)

func TestExtractFletchRenderID(t *testing.T) {
	id, ok := ExtractFletchRenderID("https://cdn.example.com/creative.js?fletch-render-4821=1")
	if !ok || id != "4821" {
		t.Fatalf("got (%q,%v), want (4821,true)", id, ok)
	}
	if _, ok := ExtractFletchRenderID("https://cdn.example.com/creative.js"); ok {
		t.Fatal("expected no match without fletch-render token")
	}
}

func TestExtractVideoIDsFiltersDecoys(t *testing.T) {
	expected := ExpectedFletchSet([]string{"100"})
	scripts := []traffic.ScriptResponse{
		{URL: "https://cdn.example.com/a.js?fletch-render-100=1", Body: `"videoId":"rkXH2aDmhDQ"`},
		{URL: "https://cdn.example.com/b.js?fletch-render-999=1", Body: `"videoId":"decoy1234aa"`},
	}
	got := ExtractVideoIDs(scripts, expected)
	if len(got) != 1 || got[0] != "rkXH2aDmhDQ" {
		t.Fatalf("got %v, want [rkXH2aDmhDQ]", got)
	}
}

func TestExtractVideoIDsMultiVideo(t *testing.T) {
	expected := ExpectedFletchSet([]string{"1", "2"})
	scripts := []traffic.ScriptResponse{
		{URL: "https://cdn.example.com/a.js?fletch-render-1=1", Body: `https://youtube.com/embed/C_NGOLQCcBo`},
		{URL: "https://cdn.example.com/b.js?fletch-render-2=1", Body: `https://youtu.be/df0Aym2cJDM`},
	}
	got := ExtractVideoIDs(scripts, expected)
	want := []string{"C_NGOLQCcBo", "df0Aym2cJDM"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractAppStoreID(t *testing.T) {
	expected := ExpectedFletchSet([]string{"7"})
	scripts := []traffic.ScriptResponse{
		{URL: "https://cdn.example.com/a.js?fletch-render-7=1", Body: `"productId": "1435281792"`},
	}
	id, ok := ExtractAppStoreID(scripts, expected)
	if !ok || id != "1435281792" {
		t.Fatalf("got (%q,%v), want (1435281792,true)", id, ok)
	}
}

func TestExtractRealCreativeIDAPIField(t *testing.T) {
	schema := DefaultResponseSchema()
	raw := []byte(`{"1":{"3":{"2":"123456789012"}}}`)
	id, method, ok := ExtractRealCreativeID(raw, schema, nil)
	if !ok || id != "123456789012" || method != "api" {
		t.Fatalf("got (%q,%q,%v)", id, method, ok)
	}
}

func TestExtractRealCreativeIDFrequencyFallback(t *testing.T) {
	schema := DefaultResponseSchema()
	raw := []byte(`{}`)
	urls := []string{
		"https://cdn.example.com/x.js?cid=555555555555",
		"https://cdn.example.com/y.js?cid=555555555555",
		"https://cdn.example.com/z.js?cid=111111111111",
	}
	id, method, ok := ExtractRealCreativeID(raw, schema, urls)
	if !ok || id != "555555555555" || method != "frequency" {
		t.Fatalf("got (%q,%q,%v)", id, method, ok)
	}
}

func TestDetectStaticWithoutFlag(t *testing.T) {
	schema := DefaultResponseSchema()
	raw := []byte(`{"1":{"4":{"1":false}}}`)
	if _, ok := DetectStatic(raw, schema); ok {
		t.Fatal("expected no static classification when flag is false")
	}
}

func TestIsEmptyLookup(t *testing.T) {
	schema := DefaultResponseSchema()
	if !IsEmptyLookup([]byte(`{}`), schema) {
		t.Fatal("expected empty for a document missing the top-level field")
	}
	if IsEmptyLookup([]byte(`{"1":{}}`), schema) {
		t.Fatal("expected non-empty once the top-level field is present")
	}
}

func TestExtractAssetRefs(t *testing.T) {
	schema := DefaultResponseSchema()
	raw := []byte(`{"1":{"6":[{"2":"1","3":"https://cdn.example.com/a.js?fletch-render-1=1"}]}}`)
	refs := ExtractAssetRefs(raw, schema)
	if len(refs) != 1 || refs[0].FletchRenderID != "1" || refs[0].URL != "https://cdn.example.com/a.js?fletch-render-1=1" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}

func TestExtractExpectedFletchIDs(t *testing.T) {
	schema := DefaultResponseSchema()
	raw := []byte(`{"1":{"6":[{"2":"100"},{"2":200}]}}`)
	got := ExtractExpectedFletchIDs(raw, schema)
	want := []string{"100", "200"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
