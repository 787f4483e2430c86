package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const slistTwoSegments = `TIMESERIES AV_SPCP__BHZ_R, 4 samples, 1 sps, 2024-06-10T12:00:00.000000, SLIST, INTEGER, COUNTS
10
11
12 13
TIMESERIES AV_SPCP__BHZ_R, 2 samples, 1 sps, 2024-06-10T12:00:10.000000, SLIST, INTEGER, COUNTS
20
21
`

func TestIRISClientTraces(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(slistTwoSegments)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewIRISClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	start := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	traces, err := client.Traces(context.Background(), testStation, start, start.Add(20*time.Second))
	if err != nil {
		t.Fatalf("Traces: %v", err)
	}

	if gotQuery["net"] != "AV" || gotQuery["sta"] != "SPCP" || gotQuery["cha"] != "BHZ" {
		t.Errorf("identity query = %v", gotQuery)
	}
	if gotQuery["loc"] != "--" {
		t.Errorf("loc = %q, want -- for empty location", gotQuery["loc"])
	}
	if gotQuery["format"] != "ascii" {
		t.Errorf("format = %q, want ascii", gotQuery["format"])
	}
	if gotQuery["starttime"] != "2024-06-10T12:00:00" {
		t.Errorf("starttime = %q", gotQuery["starttime"])
	}

	if len(traces) != 2 {
		t.Fatalf("traces = %d, want 2", len(traces))
	}
	if !traces[0].Start.Equal(start) {
		t.Errorf("traces[0].Start = %v, want %v", traces[0].Start, start)
	}
	if len(traces[0].Samples) != 4 || traces[0].Samples[3] != 13 {
		t.Errorf("traces[0].Samples = %v, want [10 11 12 13]", traces[0].Samples)
	}
	if !traces[1].Start.Equal(start.Add(10 * time.Second)) {
		t.Errorf("traces[1].Start = %v", traces[1].Start)
	}
	if len(traces[1].Samples) != 2 {
		t.Errorf("traces[1].Samples = %v, want [20 21]", traces[1].Samples)
	}
}

func TestIRISClientNoContent(t *testing.T) {
	for _, code := range []int{http.StatusNoContent, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		client := NewIRISClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		start := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
		traces, err := client.Traces(context.Background(), testStation, start, start.Add(time.Minute))
		if err != nil {
			t.Errorf("status %d: err = %v, want nil", code, err)
		}
		if traces != nil {
			t.Errorf("status %d: traces = %v, want nil", code, traces)
		}
		srv.Close()
	}
}

func TestIRISClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewIRISClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	start := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	_, err := client.Traces(context.Background(), testStation, start, start.Add(time.Minute))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("err = %v, want status code in message", err)
	}
}

func TestParseSLISTErrors(t *testing.T) {
	tests := map[string]string{
		"data before header": "42\n",
		"bad sample":         "TIMESERIES X, 1 samples, 1 sps, 2024-06-10T00:00:00.000000, SLIST, INTEGER, COUNTS\nnope\n",
		"bad header time":    "TIMESERIES X, 1 samples, 1 sps, yesterday, SLIST, INTEGER, COUNTS\n1\n",
		"short header":       "TIMESERIES X, 1 samples\n1\n",
	}
	for name, body := range tests {
		if _, err := parseSLIST(strings.NewReader(body)); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}
