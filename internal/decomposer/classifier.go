// Package decomposer expands goals into executable task descriptors.
package decomposer

import (
	"context"
	"regexp"
)

// Category is the work category a classifier assigns to goal text.
// Categories map one-to-one onto agent capability tags.
type Category string

const (
	// CategoryResearch covers information gathering and investigation.
	CategoryResearch Category = "research"
	// CategoryWriting covers drafting and editing content.
	CategoryWriting Category = "writing"
	// CategoryAnalysis covers data and metric work.
	CategoryAnalysis Category = "analysis"
	// CategoryEngineering covers building, fixing and deploying.
	CategoryEngineering Category = "engineering"
	// CategoryOutreach covers contacting people and publishing.
	CategoryOutreach Category = "outreach"
	// CategoryGeneral is the fallback when nothing matches.
	CategoryGeneral Category = "general"
)

// Classification is a category with the classifier's confidence in it.
type Classification struct {
	Category   Category
	Confidence float64
}

// Classifier assigns a work category to free text. Implementations may be
// rule-based or model-based; the decomposer depends only on this interface.
type Classifier interface {
	// Classify returns the category for the text. The context carries
	// workspace scoping and cancellation.
	Classify(ctx context.Context, text string) (Classification, error)
}

// categoryRule pairs a compiled regex with the category it detects and a
// base confidence score. Rules are evaluated in order; the first match wins.
type categoryRule struct {
	regex      *regexp.Regexp
	category   Category
	confidence float64
}

// RuleClassifier classifies goal text using ordered regex rules.
// Thread-safe: all patterns are compiled at construction time.
type RuleClassifier struct {
	rules []*categoryRule
}

// NewRuleClassifier creates a classifier with built-in rules.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{rules: buildCategoryRules()}
}

// buildCategoryRules returns ordered regex rules for category detection.
// More specific patterns are listed first to avoid shadowing.
func buildCategoryRules() []*categoryRule {
	return []*categoryRule{
		{
			regex:      regexp.MustCompile(`(?i)\b(?:research|investigat|survey|benchmark|compare|evaluat|literature|sources?)\b`),
			category:   CategoryResearch,
			confidence: 0.85,
		},
		{
			regex:      regexp.MustCompile(`(?i)\b(?:build|implement|deploy|fix|migrat|refactor|integrat|automat|pipeline|api|service)\b`),
			category:   CategoryEngineering,
			confidence: 0.85,
		},
		{
			regex:      regexp.MustCompile(`(?i)\b(?:write|draft|blog|newsletter|documentation|docs|report|article|copy|summar)\b`),
			category:   CategoryWriting,
			confidence: 0.8,
		},
		{
			regex:      regexp.MustCompile(`(?i)\b(?:analy[sz]e|metrics?|dashboards?|statistics?|data\s+set|trends?|forecast)\b`),
			category:   CategoryAnalysis,
			confidence: 0.8,
		},
		{
			regex:      regexp.MustCompile(`(?i)\b(?:outreach|contact|email\s+campaign|publish|announce|social|engage|onboard)\b`),
			category:   CategoryOutreach,
			confidence: 0.75,
		},
	}
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	select {
	case <-ctx.Done():
		return Classification{}, ctx.Err()
	default:
	}
	for _, rule := range c.rules {
		if rule.regex.MatchString(text) {
			return Classification{Category: rule.category, Confidence: rule.confidence}, nil
		}
	}
	return Classification{Category: CategoryGeneral, Confidence: 0.5}, nil
}
