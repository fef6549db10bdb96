package generation

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
}

func TestHTTPFetcher(t *testing.T) {
	tests := []struct {
		name    string
		rt      roundTripFunc
		max     int64
		want    string
		wantErr string
	}{
		{name: "ok", rt: respond(http.StatusOK, "video"), want: "video"},
		{name: "forbidden", rt: respond(http.StatusForbidden, "denied"), wantErr: "status 403"},
		{name: "empty", rt: respond(http.StatusOK, ""), wantErr: "empty body"},
		{name: "too large", rt: respond(http.StatusOK, "0123456789"), max: 4, wantErr: "exceeds 4 bytes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewHTTPFetcher(&http.Client{Transport: tc.rt})
			if tc.max > 0 {
				f.MaxBytes = tc.max
			}
			got, err := f.Fetch(context.Background(), "https://replicate.delivery/out.mp4")
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("Fetch error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch error: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("Fetch = %q", got)
			}
		})
	}
}
