package risk

import (
	"time"

	"github.com/rhoward/ztverify/internal/models"
)

const (
	// hoursSinceLastCap bounds the recency feature at one week so a
	// single dormant account does not dominate the model input.
	hoursSinceLastCap = 168.0
	// hoursSinceLastDefault is assumed for users with no history.
	hoursSinceLastDefault = 24.0
	// LocationHistoryWindow is how many recent attempts are consulted
	// for the known-location feature.
	LocationHistoryWindow = 10
)

// LoginContext is the raw per-request input to feature extraction and
// rule evaluation. CountryCode is "XX" when geolocation was unavailable.
type LoginContext struct {
	Username          string
	Timestamp         time.Time
	SourceIP          string
	CountryCode       string
	ASN               int
	UserAgent         string
	DeviceFingerprint string
	Location          string
	DeviceType        string
}

// FeatureVector is the fixed-shape numeric input for the anomaly
// classifier. Boolean features are encoded 0/1.
type FeatureVector struct {
	HourOfDay        int
	DayOfWeek        int // Monday = 0
	DeviceSimilarity float64
	KnownDevice      float64
	HoursSinceLast   float64
	KnownLocation    float64
}

// Derive computes the feature vector from a login context plus the
// already-fetched trust and history state, with no I/O. Extraction is
// deterministic: the same context against the same state always produces
// the same vector. Attempts must be ordered newest first.
func Derive(c LoginContext, knownDevice bool, attempts []models.LoginAttempt) FeatureVector {
	ts := c.Timestamp.UTC()

	fv := FeatureVector{
		HourOfDay:      ts.Hour(),
		DayOfWeek:      mondayIndexed(ts.Weekday()),
		HoursSinceLast: hoursSinceLastDefault,
	}

	if knownDevice {
		fv.KnownDevice = 1
	}

	if len(attempts) == 0 {
		return fv
	}

	last := attempts[0]
	fv.DeviceSimilarity = SimilarityRatio(c.DeviceFingerprint, last.DeviceFingerprint)

	hours := ts.Sub(last.AttemptTime).Hours()
	if hours < 0 {
		hours = 0
	}
	if hours > hoursSinceLastCap {
		hours = hoursSinceLastCap
	}
	fv.HoursSinceLast = hours

	if c.Location != "" {
		for _, a := range attempts {
			if a.Location != nil && *a.Location == c.Location {
				fv.KnownLocation = 1
				break
			}
		}
	}

	return fv
}

// mondayIndexed converts Go's Sunday-first weekday to a Monday=0 index.
func mondayIndexed(d time.Weekday) int {
	return (int(d) + 6) % 7
}
