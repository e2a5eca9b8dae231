// Package quality scores normalized rate rows. The score starts at 1.0 and
// drops for missing required fields, implausible rates, and empty provider
// lists; it never leaves [0, 1].
package quality

import "strings"

// Flags is the quality verdict attached to every rate row.
type Flags struct {
	IsValidated     bool
	HasConflicts    bool
	ConfidenceScore float64
	Notes           string
}

// Input is the subset of a normalized row the validator inspects.
type Input struct {
	ServiceCode      string
	NegotiatedRate   float64
	PayerUUID        string
	OrganizationUUID string
	NPICount         int
}

const rateCeiling = 10_000

// Score computes the quality flags for one row.
func Score(in Input) Flags {
	score := 1.0
	validated := true
	conflicts := false
	var notes []string

	if in.ServiceCode == "" || in.NegotiatedRate == 0 || in.PayerUUID == "" || in.OrganizationUUID == "" {
		score -= 0.3
		validated = false
		notes = append(notes, "missing required fields")
	}
	if in.NegotiatedRate <= 0 || in.NegotiatedRate > rateCeiling {
		score -= 0.2
		conflicts = true
		notes = append(notes, "rate outside plausible range")
	}
	if in.NPICount == 0 {
		score -= 0.1
		notes = append(notes, "no provider NPIs")
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return Flags{
		IsValidated:     validated,
		HasConflicts:    conflicts,
		ConfidenceScore: score,
		Notes:           strings.Join(notes, "; "),
	}
}
