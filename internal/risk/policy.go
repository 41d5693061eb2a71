package risk

import (
	"net/netip"
	"strings"
)

// Policy is the data side of the rule engine: country tiers, network
// reputation lists, time windows, and the scores attached to each rule.
// The engine itself only interprets this table, so deployments can tune
// the tiers without touching scoring logic.
type Policy struct {
	TrustedCountries  map[string]bool
	RegionalCountries map[string]bool
	PartnerCountries  map[string]bool
	DeniedCountries   map[string]bool

	TrustedASNs map[int]bool
	AttackASNs  map[int]bool
	CloudASNs   map[int]bool

	// CloudPrefixes is a coarse address-range fallback for cloud origin
	// detection when the ASN is missing or unlisted.
	CloudPrefixes []netip.Prefix

	// Hour sets are UTC hours of day.
	BusinessHours   map[int]bool
	SuspiciousHours map[int]bool

	// PartnerBusinessHours maps a partner country to the UTC hours that
	// count as its local business day, earning the partner discount.
	PartnerBusinessHours map[string]map[int]bool

	BotMarkers []string

	// StepUpCountries always force at least ScoreFloorStepUp and a
	// challenge, regardless of every other signal.
	StepUpCountries  map[string]bool
	ScoreFloorStepUp int

	ScoreTrustedISP    int
	ScoreTrusted       int
	ScoreBotTrustedISP int
	ScoreBotTrusted    int
	ScoreRegional      int
	ScorePartner       int
	ScoreUnknown       int
	ScoreDenied        int

	BonusBusinessHours        int
	BonusPartnerBusinessHours int
	PenaltyCloudOrigin        int
	PenaltyPrivateIP          int
	PenaltyAttackASN          int
	PenaltyBot                int
	PenaltySuspiciousHours    int

	LevelMediumMin int
	LevelHighMin   int

	ClassifierBonus     int
	ClassifierThreshold float64
}

// DefaultPolicy returns the Gulf-region deployment table.
func DefaultPolicy() *Policy {
	return &Policy{
		TrustedCountries:  countrySet("AE", "SA", "QA", "KW", "OM", "BH"),
		RegionalCountries: countrySet("JO", "LB", "EG"),
		PartnerCountries:  countrySet("US", "GB", "DE", "FR", "SG", "AU", "IN"),
		DeniedCountries:   countrySet("RU", "CN", "KP", "NG", "RO", "UA", "BR"),

		// Etisalat, Du and the other local carriers.
		TrustedASNs: asnSet(5384, 15802, 42298, 35753, 36351),
		AttackASNs:  asnSet(3280, 503109, 62350, 56851),
		// AWS, Amazon, Google, Microsoft, DigitalOcean.
		CloudASNs: asnSet(16509, 14618, 15169, 8075, 14061, 396982),

		CloudPrefixes: []netip.Prefix{
			netip.MustParsePrefix("3.0.0.0/8"),
			netip.MustParsePrefix("13.0.0.0/8"),
			netip.MustParsePrefix("52.0.0.0/8"),
			netip.MustParsePrefix("104.0.0.0/8"),
			netip.MustParsePrefix("35.0.0.0/8"),
		},

		// 08:00-18:00 local (UTC+4).
		BusinessHours: hourRange(4, 14),
		// 02:00-06:00 local.
		SuspiciousHours: hourSet(22, 23, 0, 1, 2),

		PartnerBusinessHours: map[string]map[int]bool{
			"IN": hourRange(4, 13),
		},

		BotMarkers: []string{"python", "curl", "wget", "bot", "headless", "phantom"},

		StepUpCountries:  countrySet("IN"),
		ScoreFloorStepUp: 40,

		ScoreTrustedISP:    5,
		ScoreTrusted:       10,
		ScoreBotTrustedISP: 75,
		ScoreBotTrusted:    70,
		ScoreRegional:      35,
		ScorePartner:       40,
		ScoreUnknown:       45,
		ScoreDenied:        80,

		BonusBusinessHours:        5,
		BonusPartnerBusinessHours: 10,
		PenaltyCloudOrigin:        10,
		PenaltyPrivateIP:          25,
		PenaltyAttackASN:          30,
		PenaltyBot:                35,
		PenaltySuspiciousHours:    15,

		LevelMediumMin: 30,
		LevelHighMin:   70,

		ClassifierBonus:     10,
		ClassifierThreshold: 0.5,
	}
}

// PolicyOverrides is the deployment-tunable subset of the policy table.
// Zero or empty fields keep the DefaultPolicy value.
type PolicyOverrides struct {
	LevelMediumMin int
	LevelHighMin   int

	TrustedCountries []string
	DeniedCountries  []string
	StepUpCountries  []string
}

// NewPolicy returns DefaultPolicy with the given overrides applied.
func NewPolicy(o PolicyOverrides) *Policy {
	p := DefaultPolicy()

	if o.LevelMediumMin > 0 {
		p.LevelMediumMin = o.LevelMediumMin
	}
	if o.LevelHighMin > 0 {
		p.LevelHighMin = o.LevelHighMin
	}
	if len(o.TrustedCountries) > 0 {
		p.TrustedCountries = countrySet(o.TrustedCountries...)
	}
	if len(o.DeniedCountries) > 0 {
		p.DeniedCountries = countrySet(o.DeniedCountries...)
	}
	if len(o.StepUpCountries) > 0 {
		p.StepUpCountries = countrySet(o.StepUpCountries...)
	}

	return p
}

func (p *Policy) IsBotAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range p.BotMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// IsPrivateIP reports whether the source address is non-routable. An
// unparseable address is treated as routable rather than penalized.
func (p *Policy) IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// IsCloudOrigin reports whether the request likely originates from a
// cloud or hosting provider, by ASN first and address range second.
func (p *Policy) IsCloudOrigin(asn int, ip string) bool {
	if p.CloudASNs[asn] {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range p.CloudPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// LevelFor maps a clamped score onto a risk level.
func (p *Policy) LevelFor(score int) Level {
	switch {
	case score >= p.LevelHighMin:
		return LevelHigh
	case score >= p.LevelMediumMin:
		return LevelMedium
	default:
		return LevelLow
	}
}

func countrySet(codes ...string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

func asnSet(asns ...int) map[int]bool {
	set := make(map[int]bool, len(asns))
	for _, a := range asns {
		set[a] = true
	}
	return set
}

func hourSet(hours ...int) map[int]bool {
	set := make(map[int]bool, len(hours))
	for _, h := range hours {
		set[h] = true
	}
	return set
}

// hourRange builds the inclusive UTC hour set [from, to].
func hourRange(from, to int) map[int]bool {
	set := make(map[int]bool, to-from+1)
	for h := from; h <= to; h++ {
		set[h] = true
	}
	return set
}
