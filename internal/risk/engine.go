package risk

import (
	"fmt"
	"log/slog"
)

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

type Source string

const (
	SourceRules  Source = "rules"
	SourceHybrid Source = "hybrid"
)

// Assessment is the engine's ephemeral verdict for one login attempt. It
// is summarized into the audit record, never persisted on its own.
type Assessment struct {
	Score         int
	Level         Level
	Factors       []string
	IsAnomaly     bool
	Source        Source
	RequireStepUp bool
}

// Engine combines the deterministic rule score with the optional anomaly
// classifier. Rules are authoritative; the classifier can only push the
// score up, never down.
type Engine struct {
	policy     *Policy
	rules      *RuleEngine
	classifier AnomalyClassifier
	logger     *slog.Logger
}

func NewEngine(policy *Policy, classifier AnomalyClassifier, logger *slog.Logger) *Engine {
	if classifier == nil {
		classifier = NoopClassifier{}
	}
	return &Engine{
		policy:     policy,
		rules:      NewRuleEngine(policy),
		classifier: classifier,
		logger:     logger,
	}
}

func (e *Engine) Assess(c LoginContext, fv FeatureVector) Assessment {
	result := e.rules.Evaluate(c)

	score := result.Score
	factors := result.Factors
	source := SourceRules

	if e.classifier.Available() {
		prob, err := e.classifier.PredictProbability(fv, c)
		switch {
		case err != nil:
			// A broken classifier never blocks the decision.
			e.logger.Warn("anomaly classifier failed, continuing rules-only",
				slog.String("error", err.Error()))
		case prob > e.policy.ClassifierThreshold:
			score = clampScore(score + e.policy.ClassifierBonus)
			factors = append(factors, fmt.Sprintf("anomaly model flagged (probability %.0f%%)", prob*100))
			source = SourceHybrid
		default:
			source = SourceHybrid
		}
	}

	assessment := Assessment{
		Score:   score,
		Factors: factors,
		Source:  source,
	}

	// Jurisdiction policy runs last so no other signal can lower a
	// step-up country below its floor, and before any caller-side
	// per-account shortcut sees the result.
	if e.policy.StepUpCountries[c.CountryCode] {
		assessment.RequireStepUp = true
		if assessment.Score < e.policy.ScoreFloorStepUp {
			assessment.Score = e.policy.ScoreFloorStepUp
		}
		assessment.Factors = append(assessment.Factors,
			fmt.Sprintf("jurisdiction %s requires step-up verification", c.CountryCode))
	}

	assessment.Level = e.policy.LevelFor(assessment.Score)
	assessment.IsAnomaly = assessment.Level == LevelHigh

	return assessment
}
