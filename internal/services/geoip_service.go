package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Location is a resolved source address. CountryCode is the two-letter
// ISO code, or "XX" when the lookup could not resolve one.
type Location struct {
	City        string
	CountryCode string
	ASN         int
}

const UnknownCountry = "XX"

// Unknown is the fallback location used when lookups fail or time out.
func UnknownLocation() *Location {
	return &Location{CountryCode: UnknownCountry}
}

// String renders the location the way it is stored in the audit log.
func (l *Location) String() string {
	if l.City == "" {
		return l.CountryCode
	}
	return fmt.Sprintf("%s, %s", l.City, l.CountryCode)
}

// Geolocator resolves a source IP to a location. Implementations must
// honor the context deadline; the decision flow waits at most a couple
// of seconds before falling back to an unknown location.
type Geolocator interface {
	Lookup(ctx context.Context, ip string) (*Location, error)
}

// NoopGeolocator always reports the unknown location. Used when no
// geolocation endpoint is configured.
type NoopGeolocator struct{}

func (NoopGeolocator) Lookup(context.Context, string) (*Location, error) {
	return UnknownLocation(), nil
}

// HTTPGeolocator resolves locations against an external JSON service.
type HTTPGeolocator struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPGeolocator(endpoint string, timeout time.Duration, log *slog.Logger) *HTTPGeolocator {
	return &HTTPGeolocator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   log,
	}
}

type geoResponse struct {
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
	ASN         int    `json:"asn"`
}

func (g *HTTPGeolocator) Lookup(ctx context.Context, ip string) (*Location, error) {
	u := fmt.Sprintf(g.endpoint, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building geolocation request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation lookup: unexpected status %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding geolocation response: %w", err)
	}

	loc := &Location{
		City:        body.City,
		CountryCode: body.CountryCode,
		ASN:         body.ASN,
	}
	if loc.CountryCode == "" {
		loc.CountryCode = UnknownCountry
	}

	return loc, nil
}
