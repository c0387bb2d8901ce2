package ai

import "strings"

// RefusalDetector recognizes replies where the model declined to evaluate
// instead of answering. It is only consulted after a reply failed to parse,
// so a match refines the failure reason rather than rejecting valid output.
type RefusalDetector struct {
	indicators []string
}

// NewRefusalDetector creates a detector with the default pattern list.
func NewRefusalDetector() *RefusalDetector {
	return &RefusalDetector{
		indicators: []string{
			"i'm sorry", "i am sorry", "i cannot", "i can't", "i'm unable",
			"i am unable", "i apologize", "i'm afraid", "i don't have access",
			"i refuse", "unable to process", "against my guidelines",
			"cannot assist", "cannot comply", "content policy",
		},
	}
}

// IsRefusal reports whether the reply matches a known refusal pattern.
func (rd *RefusalDetector) IsRefusal(response string) bool {
	lower := strings.ToLower(response)
	for _, indicator := range rd.indicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
