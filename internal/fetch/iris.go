package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
)

// DefaultIRISBaseURL is the public IRIS FDSN timeseries endpoint.
const DefaultIRISBaseURL = "https://service.iris.edu/irisws/timeseries/1/query"

const irisTimestampLayout = "2006-01-02T15:04:05.000000"

// IRISClient fetches waveform windows from the IRIS timeseries web service
// in SLIST ASCII form. Each TIMESERIES block in the response becomes one
// Trace; gap handling is left entirely to Window.
type IRISClient struct {
	baseURL string
	client  *http.Client
}

// IRISOption configures an IRISClient.
type IRISOption func(*IRISClient)

// WithBaseURL overrides the service endpoint. Used by tests.
func WithBaseURL(u string) IRISOption {
	return func(c *IRISClient) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) IRISOption {
	return func(c *IRISClient) { c.client = hc }
}

// NewIRISClient returns a client with a 120s request timeout; a 6-hour
// window at 100 Hz is a multi-megabyte ASCII response.
func NewIRISClient(opts ...IRISOption) *IRISClient {
	c := &IRISClient{
		baseURL: DefaultIRISBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Traces requests [start, end) and parses the SLIST response. A 204 or 404
// response means no data and returns an empty slice, not an error.
func (c *IRISClient) Traces(ctx context.Context, st chunk.Station, start, end time.Time) ([]Trace, error) {
	q := url.Values{}
	q.Set("net", st.Network)
	q.Set("sta", st.Station)
	q.Set("loc", st.LocationToken())
	q.Set("cha", st.Channel)
	q.Set("starttime", start.UTC().Format("2006-01-02T15:04:05"))
	q.Set("endtime", end.UTC().Format("2006-01-02T15:04:05"))
	q.Set("format", "ascii")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting timeseries: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("timeseries returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	traces, err := parseSLIST(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing timeseries response: %w", err)
	}
	return traces, nil
}

// parseSLIST reads TIMESERIES blocks: a header line per segment followed by
// whitespace-separated integer sample values.
func parseSLIST(r io.Reader) ([]Trace, error) {
	var traces []Trace
	var current *Trace

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "TIMESERIES") {
			start, count, err := parseSLISTHeader(line)
			if err != nil {
				return nil, err
			}
			traces = append(traces, Trace{Start: start, Samples: make([]int32, 0, count)})
			current = &traces[len(traces)-1]
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("sample data before TIMESERIES header")
		}
		for _, field := range strings.Fields(line) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("bad sample value %q: %w", field, err)
			}
			current.Samples = append(current.Samples, int32(v))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return traces, nil
}

// parseSLISTHeader extracts the segment start time and sample count from a
// header like:
// TIMESERIES AV_SPCP__BHZ_R, 60000 samples, 100 sps, 2024-06-10T12:00:00.000000, SLIST, INTEGER, COUNTS
func parseSLISTHeader(line string) (time.Time, int, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return time.Time{}, 0, fmt.Errorf("malformed TIMESERIES header: %q", line)
	}
	countFields := strings.Fields(strings.TrimSpace(parts[1]))
	if len(countFields) < 1 {
		return time.Time{}, 0, fmt.Errorf("malformed sample count in header: %q", line)
	}
	count, err := strconv.Atoi(countFields[0])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed sample count in header: %q", line)
	}
	start, err := time.ParseInLocation(irisTimestampLayout, strings.TrimSpace(parts[3]), time.UTC)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed start time in header: %q", line)
	}
	return start, count, nil
}
