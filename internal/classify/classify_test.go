package classify

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want Outcome
	}{
		{
			name: "proxy connection failed",
			msg:  "net::ERR_PROXY_CONNECTION_FAILED at https://example.com",
			want: Outcome{Retry: true, Kind: "Network/Timeout", Category: CategoryRetry},
		},
		{
			name: "socket hang up",
			msg:  "Error: socket hang up",
			want: Outcome{Retry: true, Kind: "Network/Timeout", Category: CategoryRetry},
		},
		{
			name: "expected script bodies but none received",
			msg:  "Expected 3 script bodies but none received",
			want: Outcome{Retry: true, Kind: "Network/Timeout", Category: CategoryRetry},
		},
		{
			name: "creative missing",
			msg:  "Creative not found in API - broken/deleted creative page",
			want: Outcome{Retry: false, Kind: "CreativeMissing", Category: CategoryBadAd},
		},
		{
			name: "rate limit whole word",
			msg:  "request failed with HTTP 429 Too Many Requests",
			want: Outcome{Retry: true, Kind: "RateLimit", Category: CategoryRetry},
		},
		{
			name: "429 substring inside larger number must not match",
			msg:  "creative id 1429000123 lookup returned unexpected schema",
			want: Outcome{Retry: false, Kind: "Failed", Category: CategoryFailed},
		},
		{
			name: "unrecognized error is permanent",
			msg:  "json: cannot unmarshal object into Go struct field",
			want: Outcome{Retry: false, Kind: "Failed", Category: CategoryFailed},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.msg)
			if got != c.want {
				t.Errorf("Classify(%q) = %+v, want %+v", c.msg, got, c.want)
			}
		})
	}
}
