package match

import "regexp"

// Certainty classifies an identifier namespace for matching purposes.
type Certainty int

const (
	// CertaintyRejected means the namespace yields no matchpoint.
	CertaintyRejected Certainty = iota
	// CertaintyHigh marks standard-number namespaces (checksum-validated
	// registry numbers and control numbers).
	CertaintyHigh
	// CertaintySecondary marks weaker blocking signals such as derived
	// title keys.
	CertaintySecondary
)

// String returns the string representation of Certainty
func (c Certainty) String() string {
	switch c {
	case CertaintyHigh:
		return "high"
	case CertaintySecondary:
		return "secondary"
	case CertaintyRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Namespace pattern sets. A namespace matching none of these is rejected;
// the identifier that carried it never produces a matchpoint.
var (
	highCertaintyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^ISBN`),
		regexp.MustCompile(`(?i)^ISSN`),
		regexp.MustCompile(`(?i)^LCCN`),
		regexp.MustCompile(`(?i)^OCLC`),
		regexp.MustCompile(`(?i)^OCOLC`),
		regexp.MustCompile(`(?i)^DOI`),
	}

	secondaryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^GOLDRUSH`),
		regexp.MustCompile(`(?i)^BLOCKING_TITLE`),
	}
)

// ClassifyNamespace classifies one identifier namespace. High-certainty
// patterns win over secondary ones when both match.
func ClassifyNamespace(namespace string) Certainty {
	for _, p := range highCertaintyPatterns {
		if p.MatchString(namespace) {
			return CertaintyHigh
		}
	}
	for _, p := range secondaryPatterns {
		if p.MatchString(namespace) {
			return CertaintySecondary
		}
	}
	return CertaintyRejected
}
