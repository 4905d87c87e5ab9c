package ingestion

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
)

const maxPayloadBytes = 32 << 20

// Fetcher produces one batch of decoded hazard records per call.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (hazard.DecodeResult, error)
}

// HTTPSource polls a hazard backend endpoint that returns either a JSON
// record array or a GeoJSON FeatureCollection.
type HTTPSource struct {
	name    string
	url     string
	client  *http.Client
	decoder hazard.Decoder
}

func NewHTTPSource(name, url string, loc *time.Location) *HTTPSource {
	return &HTTPSource{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		decoder: hazard.Decoder{Source: name, Location: loc},
	}
}

func (s *HTTPSource) Name() string {
	return s.name
}

func (s *HTTPSource) Fetch(ctx context.Context) (hazard.DecodeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return hazard.DecodeResult{}, eris.Wrap(err, "error creating request")
	}
	req.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return hazard.DecodeResult{}, eris.Wrap(err, "error while doing request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hazard.DecodeResult{}, eris.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return hazard.DecodeResult{}, eris.Wrap(err, "error reading response body")
	}

	return s.decoder.Decode(body)
}
