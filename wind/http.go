package wind

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/a-bouts/nav-sim/latlon"
)

// HTTPClient is the subset of *http.Client used by HTTP.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP fetches wind from a service answering GET {base}/{lat}/{lon} with
// {"windDirection": deg, "windSpeed": kts}.
type HTTP struct {
	client  HTTPClient
	baseURL string
	limiter *rate.Limiter
}

func NewHTTP(baseURL string, rateLimit int, timeout time.Duration) *HTTP {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), rateLimit)
	}
	return NewHTTPWithClient(&http.Client{Timeout: timeout}, baseURL, limiter)
}

// NewHTTPWithClient allows injecting a custom HTTP client.
func NewHTTPWithClient(client HTTPClient, baseURL string, limiter *rate.Limiter) *HTTP {
	return &HTTP{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		limiter: limiter,
	}
}

type windPayload struct {
	Direction *float64 `json:"windDirection"`
	Speed     *float64 `json:"windSpeed"`
}

func (h *HTTP) Fetch(ctx context.Context, at latlon.LatLon) (Sample, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Sample{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	reqURL := h.baseURL + "/" + strconv.FormatFloat(at.Lat, 'f', -1, 64) + "/" + strconv.FormatFloat(at.Lon, 'f', -1, 64)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("fetching wind: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("wind service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	log.Tracef("Wind %s raw response %s", at, body)

	var p windPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p.sample(at)
}

func (p windPayload) sample(at latlon.LatLon) (Sample, error) {
	if p.Direction == nil || p.Speed == nil {
		return Sample{}, fmt.Errorf("%w: missing windDirection or windSpeed", ErrMalformedPayload)
	}
	d, v := *p.Direction, *p.Speed
	if math.IsNaN(d) || math.IsInf(d, 0) || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Sample{}, fmt.Errorf("%w: direction %f speed %f", ErrMalformedPayload, d, v)
	}

	return Sample{Direction: latlon.Wrap360(d), Speed: v, At: at}, nil
}
