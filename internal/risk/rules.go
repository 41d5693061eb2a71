package risk

import "fmt"

// RuleResult is the deterministic half of an assessment: a 0-100 score
// with the ordered factors that produced it.
type RuleResult struct {
	Score   int
	Factors []string
}

// RuleEngine scores a login context against a Policy table. Evaluation
// order is fixed: bot detection inside the trusted region short-circuits,
// otherwise a country-tier base is chosen and additive penalties follow.
type RuleEngine struct {
	policy *Policy
}

func NewRuleEngine(policy *Policy) *RuleEngine {
	return &RuleEngine{policy: policy}
}

func (e *RuleEngine) Evaluate(c LoginContext) RuleResult {
	p := e.policy
	country := c.CountryCode
	hour := c.Timestamp.UTC().Hour()
	isBot := p.IsBotAgent(c.UserAgent)

	var score int
	var factors []string

	if p.TrustedCountries[country] {
		if p.TrustedASNs[c.ASN] {
			if isBot {
				return RuleResult{
					Score:   p.ScoreBotTrustedISP,
					Factors: []string{"automated user agent from trusted network"},
				}
			}
			score = p.ScoreTrustedISP
			factors = append(factors, fmt.Sprintf("trusted country %s with local ISP", country))
		} else {
			if isBot {
				return RuleResult{
					Score:   p.ScoreBotTrusted,
					Factors: []string{fmt.Sprintf("automated user agent from %s", country)},
				}
			}
			score = p.ScoreTrusted
			factors = append(factors, fmt.Sprintf("trusted country %s", country))
			if p.BusinessHours[hour] {
				score -= p.BonusBusinessHours
				factors = append(factors, "business hours")
			}
		}

		if p.IsPrivateIP(c.SourceIP) {
			score += p.PenaltyPrivateIP
			factors = append(factors, fmt.Sprintf("private source address %s", c.SourceIP))
		}
		if p.AttackASNs[c.ASN] {
			score += p.PenaltyAttackASN
			factors = append(factors, fmt.Sprintf("known malicious ASN %d", c.ASN))
		}
		if p.SuspiciousHours[hour] {
			score += p.PenaltySuspiciousHours
			factors = append(factors, "login during suspicious hours")
		}

		return RuleResult{Score: clampScore(score), Factors: factors}
	}

	switch {
	case p.DeniedCountries[country]:
		score = p.ScoreDenied
		factors = append(factors, fmt.Sprintf("high-risk country %s", country))
	case p.RegionalCountries[country]:
		score = p.ScoreRegional
		factors = append(factors, fmt.Sprintf("regional country %s", country))
	case p.PartnerCountries[country]:
		score = p.ScorePartner
		factors = append(factors, fmt.Sprintf("partner country %s", country))
		if p.IsCloudOrigin(c.ASN, c.SourceIP) {
			score += p.PenaltyCloudOrigin
			factors = append(factors, "cloud provider origin, potential VPN")
		}
		if hours, ok := p.PartnerBusinessHours[country]; ok && hours[hour] {
			score -= p.BonusPartnerBusinessHours
			factors = append(factors, fmt.Sprintf("%s business hours", country))
		}
	default:
		score = p.ScoreUnknown
		factors = append(factors, fmt.Sprintf("unfamiliar country %s", country))
	}

	if p.IsPrivateIP(c.SourceIP) {
		score += p.PenaltyPrivateIP
		factors = append(factors, fmt.Sprintf("private source address %s", c.SourceIP))
	}
	if p.AttackASNs[c.ASN] {
		score += p.PenaltyAttackASN
		factors = append(factors, fmt.Sprintf("known malicious ASN %d", c.ASN))
	}
	if isBot {
		score += p.PenaltyBot
		factors = append(factors, "automated user agent")
	}

	return RuleResult{Score: clampScore(score), Factors: factors}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
