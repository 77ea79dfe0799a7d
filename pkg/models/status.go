package models

// Outcome is the result of handling one queue item or one artifact link.
// It is used as a log field and as the "status" metrics label.
type Outcome string

const (
	OutcomeUnset    Outcome = ""
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeSkipped  Outcome = "skipped"   // Already visited or claimed
	OutcomeTooLarge Outcome = "too_large" // Download refused by the size cap
)

// String implements fmt.Stringer for logging
func (o Outcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// IsFailure reports whether the outcome counts towards CrawlStats.Errors
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailure || o == OutcomeTooLarge
}
