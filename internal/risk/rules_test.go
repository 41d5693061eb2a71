package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ruleContext(overrides func(*LoginContext)) LoginContext {
	c := LoginContext{
		Username:          "alice",
		Timestamp:         time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		SourceIP:          "94.200.10.20",
		CountryCode:       "AE",
		ASN:               5384,
		UserAgent:         "Mozilla/5.0 (Macintosh)",
		DeviceFingerprint: "fp-chrome-120",
	}
	if overrides != nil {
		overrides(&c)
	}
	return c
}

func TestRuleEngine_TrustedCountryWithLocalISP(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(nil))

	assert.Equal(t, 5, result.Score)
	assert.Contains(t, result.Factors[0], "trusted country AE with local ISP")
}

func TestRuleEngine_TrustedCountryBusinessHours(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.ASN = 9009 // not a local carrier
		c.Timestamp = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	}))

	assert.Equal(t, 5, result.Score) // 10 base, -5 business hours
	assert.Contains(t, result.Factors, "business hours")
}

func TestRuleEngine_TrustedCountryOffHours(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.ASN = 9009
		c.Timestamp = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	}))

	assert.Equal(t, 10, result.Score)
}

func TestRuleEngine_BotFromTrustedCountry(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	withISP := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.UserAgent = "python-requests/2.31"
	}))
	assert.Equal(t, 75, withISP.Score)

	withoutISP := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.UserAgent = "curl/8.0.1"
		c.ASN = 9009
	}))
	assert.Equal(t, 70, withoutISP.Score)
}

func TestRuleEngine_SuspiciousHoursInTrustedRegion(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.ASN = 9009
		c.Timestamp = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	}))

	assert.Equal(t, 25, result.Score) // 10 base + 15 suspicious hours
	assert.Contains(t, result.Factors, "login during suspicious hours")
}

func TestRuleEngine_DeniedCountry(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.CountryCode = "RU"
		c.ASN = 12389
	}))

	assert.GreaterOrEqual(t, result.Score, 80)
}

func TestRuleEngine_RegionalCountry(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.CountryCode = "JO"
		c.ASN = 8376
	}))

	assert.Equal(t, 35, result.Score)
}

func TestRuleEngine_PartnerCountryCloudOrigin(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.CountryCode = "US"
		c.ASN = 16509 // AWS
		c.SourceIP = "52.10.20.30"
		c.Timestamp = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	}))

	assert.Equal(t, 50, result.Score) // 40 base + 10 cloud origin
}

func TestRuleEngine_PartnerBusinessHoursDiscount(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.CountryCode = "IN"
		c.ASN = 9498
		c.Timestamp = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	}))

	assert.Equal(t, 30, result.Score) // 40 base - 10 business hours
	assert.Contains(t, result.Factors, "IN business hours")
}

func TestRuleEngine_UnknownCountry(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.CountryCode = "XX"
		c.ASN = 0
	}))

	assert.Equal(t, 45, result.Score)
}

func TestRuleEngine_AdditivePenalties(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	result := engine.Evaluate(ruleContext(func(c *LoginContext) {
		c.CountryCode = "XX"
		c.ASN = 3280              // malicious ASN
		c.SourceIP = "10.1.2.3"   // private
		c.UserAgent = "wget/1.21" // bot outside trusted region
	}))

	// 45 + 25 + 30 + 35 clamps at 100.
	assert.Equal(t, 100, result.Score)
	assert.Len(t, result.Factors, 4)
}

func TestRuleEngine_ScoreAlwaysInRange(t *testing.T) {
	engine := NewRuleEngine(DefaultPolicy())

	contexts := []LoginContext{
		ruleContext(nil),
		ruleContext(func(c *LoginContext) { c.CountryCode = "RU"; c.ASN = 3280; c.SourceIP = "192.168.1.1"; c.UserAgent = "bot" }),
		ruleContext(func(c *LoginContext) { c.CountryCode = "AE"; c.ASN = 9009; c.Timestamp = time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC) }),
		ruleContext(func(c *LoginContext) { c.SourceIP = "not-an-ip" }),
	}

	for _, c := range contexts {
		result := engine.Evaluate(c)
		assert.GreaterOrEqual(t, result.Score, 0)
		assert.LessOrEqual(t, result.Score, 100)
	}
}
