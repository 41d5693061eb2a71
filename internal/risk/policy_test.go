package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPolicy_ZeroOverridesKeepDefaults(t *testing.T) {
	p := NewPolicy(PolicyOverrides{})
	def := DefaultPolicy()

	assert.Equal(t, def.LevelMediumMin, p.LevelMediumMin)
	assert.Equal(t, def.LevelHighMin, p.LevelHighMin)
	assert.Equal(t, def.TrustedCountries, p.TrustedCountries)
	assert.Equal(t, def.DeniedCountries, p.DeniedCountries)
	assert.Equal(t, def.StepUpCountries, p.StepUpCountries)
}

func TestNewPolicy_ThresholdOverridesMoveTheBands(t *testing.T) {
	p := NewPolicy(PolicyOverrides{LevelMediumMin: 20, LevelHighMin: 55})

	assert.Equal(t, LevelLow, p.LevelFor(19))
	assert.Equal(t, LevelMedium, p.LevelFor(20))
	assert.Equal(t, LevelMedium, p.LevelFor(54))
	assert.Equal(t, LevelHigh, p.LevelFor(55))
}

func TestNewPolicy_CountryOverridesReplaceTiers(t *testing.T) {
	p := NewPolicy(PolicyOverrides{
		TrustedCountries: []string{"CH", "NO"},
		DeniedCountries:  []string{"IR"},
		StepUpCountries:  []string{"PK"},
	})

	assert.True(t, p.TrustedCountries["CH"])
	assert.False(t, p.TrustedCountries["AE"], "override replaces the default set")
	assert.True(t, p.DeniedCountries["IR"])
	assert.False(t, p.DeniedCountries["RU"])
	assert.True(t, p.StepUpCountries["PK"])
	assert.False(t, p.StepUpCountries["IN"])
}
