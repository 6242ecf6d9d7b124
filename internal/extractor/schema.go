package extractor

// ResponseSchema names where, inside the observationally-shaped
// GetCreativeById response document, the stable fields the Extractor needs
// live. Like rpc.Schema, these paths are observational and may differ per
// surface version, and must be loaded from this adapter rather than
// hard-coded at extraction call sites — a surface change is a struct
// literal edit, not a rewrite of internal/extractor.
type ResponseSchema struct {
	// RealCreativeIDPath locates the 12-digit creative identifier.
	RealCreativeIDPath []string
	// FundedByPath locates the funding-disclosure free text.
	FundedByPath []string
	// StaticFlagPath locates a boolean/enum marking a static-cached
	// creative.
	StaticFlagPath []string
	// StaticCachedURLPath locates the embedded cached image/HTML URL for a
	// static creative.
	StaticCachedURLPath []string
	// StaticAppStoreIDPath locates an app-store id sometimes present
	// directly on a static creative's API record.
	StaticAppStoreIDPath []string
	// AssetsPath locates the array of asset entries the lookup response
	// enumerates for a creative; each entry carries a fletch-render id
	// (Glossary: Fletch-render ID) at AssetFletchRenderIDField.
	AssetsPath []string
	// AssetFletchRenderIDField is the field name, within one entry at
	// AssetsPath, carrying that asset's fletch-render id.
	AssetFletchRenderIDField string
	// AssetURLField is the field name, within one entry at AssetsPath,
	// carrying that asset's script-body URL.
	AssetURLField string
	// EmptyMarkerPath locates a field whose absence marks the lookup
	// response as "empty"; a present field counts as non-empty whatever its
	// value.
	EmptyMarkerPath []string
}

// DefaultResponseSchema returns the field paths observed at the time this
// module was written. These are placeholders pending confirmation against
// live traffic for a given surface version — callers that observe a
// different shape should construct their own ResponseSchema rather than
// editing the extraction functions.
func DefaultResponseSchema() ResponseSchema {
	return ResponseSchema{
		RealCreativeIDPath:   []string{"1", "3", "2"},
		FundedByPath:         []string{"1", "7", "1"},
		StaticFlagPath:       []string{"1", "4", "1"},
		StaticCachedURLPath:  []string{"1", "4", "2"},
		StaticAppStoreIDPath: []string{"1", "4", "3"},
		AssetsPath:               []string{"1", "6"},
		AssetFletchRenderIDField: "2",
		AssetURLField:            "3",
		EmptyMarkerPath:          []string{"1"},
	}
}

// getPath walks doc (the result of json.Unmarshal into `any`) following a
// sequence of map keys, returning (nil, false) as soon as any segment is
// missing or the value isn't a map.
func getPath(doc any, path []string) (any, bool) {
	cur := doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func getString(doc any, path []string) (string, bool) {
	v, ok := getPath(doc, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getBool(doc any, path []string) bool {
	v, ok := getPath(doc, path)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return false
	}
}
