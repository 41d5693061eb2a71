package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// AnomalyClassifier is the optional statistical half of the engine. The
// engine must work with rules alone, so implementations report their own
// availability instead of the engine guessing.
type AnomalyClassifier interface {
	Available() bool
	// PredictProbability returns the probability in [0, 1] that the
	// attempt is anomalous.
	PredictProbability(fv FeatureVector, c LoginContext) (float64, error)
}

// NoopClassifier is the always-unavailable implementation used when no
// trained model is deployed.
type NoopClassifier struct{}

func (NoopClassifier) Available() bool { return false }

func (NoopClassifier) PredictProbability(FeatureVector, LoginContext) (float64, error) {
	return 0, fmt.Errorf("no classifier loaded")
}

// LogisticClassifier scores the feature vector with pretrained logistic
// regression weights. Country and device type enter as one-hot terms;
// codes absent from the weight file contribute nothing.
type LogisticClassifier struct {
	weights logisticWeights
}

type logisticWeights struct {
	Bias             float64            `json:"bias"`
	HourOfDay        float64            `json:"hour_of_day"`
	DayOfWeek        float64            `json:"day_of_week"`
	DeviceSimilarity float64            `json:"device_similarity"`
	KnownDevice      float64            `json:"known_device"`
	HoursSinceLast   float64            `json:"hours_since_last"`
	KnownLocation    float64            `json:"known_location"`
	Countries        map[string]float64 `json:"countries"`
	DeviceTypes      map[string]float64 `json:"device_types"`
}

// LoadLogisticClassifier reads a JSON weight file exported from the
// offline training pipeline.
func LoadLogisticClassifier(path string) (*LogisticClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading classifier weights: %w", err)
	}

	var w logisticWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing classifier weights: %w", err)
	}

	return &LogisticClassifier{weights: w}, nil
}

func (c *LogisticClassifier) Available() bool { return true }

func (c *LogisticClassifier) PredictProbability(fv FeatureVector, lc LoginContext) (float64, error) {
	w := c.weights

	z := w.Bias +
		w.HourOfDay*float64(fv.HourOfDay) +
		w.DayOfWeek*float64(fv.DayOfWeek) +
		w.DeviceSimilarity*fv.DeviceSimilarity +
		w.KnownDevice*fv.KnownDevice +
		w.HoursSinceLast*fv.HoursSinceLast +
		w.KnownLocation*fv.KnownLocation +
		w.Countries[lc.CountryCode] +
		w.DeviceTypes[lc.DeviceType]

	return 1.0 / (1.0 + math.Exp(-z)), nil
}
