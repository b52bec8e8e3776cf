package domain

// CustomRule defines an operator-configured detection rule.
// Rules are CEL expressions evaluated over derived activity features after
// the builtin decision list has found nothing.
type CustomRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// CEL expression; must evaluate to bool.
	Expression string `json:"expression"`

	// Confidence assigned to a match (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// Reason reported on a match.
	Reason string `json:"reason"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
