package resilience

import "strings"

// ErrorClass is the behavioral (not type-named) error taxonomy of §7.
type ErrorClass string

const (
	ClassPermanent ErrorClass = "PERMANENT"
	ClassTransient ErrorClass = "TRANSIENT"
	ClassAmbiguous ErrorClass = "AMBIGUOUS"
)

// Severity mirrors the business-impact severities of §7's user-visible
// failure behavior.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// indicator is one substring-matcher row. Generalized from
// backend/trading/profit_protection/error_handler.py's registry shape
// (§4.6) so the indicator list stays centrally testable (§9).
type indicator struct {
	substring string
	class     ErrorClass
	severity  Severity
}

// DefaultClassifier is the indicator table used throughout C2/C3/brokerage.
// Keep this list centralized and unit-tested against recorded error
// payloads (§9) — never duplicate substring checks inline at call sites.
var DefaultClassifier = NewErrorClassifier([]indicator{
	{"invalid order id", ClassPermanent, SeverityMedium},
	{"order not found", ClassPermanent, SeverityMedium},
	{"already canceled", ClassPermanent, SeverityLow},
	{"unauthorized", ClassPermanent, SeverityHigh},
	{"forbidden", ClassPermanent, SeverityHigh},
	{"invalid parameter", ClassPermanent, SeverityMedium},

	{"timeout", ClassTransient, SeverityMedium},
	{"connection", ClassTransient, SeverityMedium},
	{"network", ClassTransient, SeverityMedium},
	{"rate limit", ClassTransient, SeverityMedium},
	{"429", ClassTransient, SeverityMedium},
	{"503", ClassTransient, SeverityMedium},
	{"504", ClassTransient, SeverityMedium},
	{"temporary", ClassTransient, SeverityLow},
	{"unavailable", ClassTransient, SeverityLow},
})

// CancelRaceIndicators are the broker error substrings that mean "the
// order actually filled before your cancel landed" (§4.3.3).
var CancelRaceIndicators = []string{
	"already in filled state",
	"cannot cancel filled order",
	"42210000",
}

// ErrorClassifier classifies broker error strings by substring match
// against a centrally maintained indicator registry.
type ErrorClassifier struct {
	indicators []indicator
}

// NewErrorClassifier builds a classifier from an explicit indicator list.
func NewErrorClassifier(rows []indicator) *ErrorClassifier {
	return &ErrorClassifier{indicators: rows}
}

// Classify returns the class and severity for an error message. Anything
// matching no indicator is Ambiguous/Low — continue monitoring, do not
// abort (§4.3.4).
func (c *ErrorClassifier) Classify(msg string) (ErrorClass, Severity) {
	lower := strings.ToLower(msg)
	for _, ind := range c.indicators {
		if strings.Contains(lower, ind.substring) {
			return ind.class, ind.severity
		}
	}
	return ClassAmbiguous, SeverityLow
}

// IsCancelRace reports whether a cancel-failure error string indicates
// the order had already filled (§4.3.3 step 3).
func IsCancelRace(msg string) bool {
	lower := strings.ToLower(msg)
	for _, ind := range CancelRaceIndicators {
		if strings.Contains(lower, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}
