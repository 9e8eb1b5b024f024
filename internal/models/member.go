package models

import "strings"

type MemberStanding string

const (
	StandingGood      MemberStanding = "good"
	StandingSuspended MemberStanding = "suspended"
)

// Member is the read model resolved from the Member Directory. The engine
// consumes classification eligibility, standing, tier and credentials; it
// never owns or mutates member identity.
type Member struct {
	MemberID        string         `db:"member_id" json:"member_id"`
	Name            string         `db:"name" json:"name"`
	Classifications string         `db:"classifications" json:"classifications"` // comma-separated
	Standing        MemberStanding `db:"standing" json:"standing"`
	Tier            int            `db:"tier" json:"tier"`
	Credentials     string         `db:"credentials" json:"credentials"` // comma-separated codes
}

// HasClassification reports whether the member may sign a book of the given
// classification.
func (m *Member) HasClassification(classification string) bool {
	return containsCode(m.Classifications, classification)
}

// HasCredential reports whether the member holds the given credential code.
func (m *Member) HasCredential(code string) bool {
	return containsCode(m.Credentials, code)
}

func containsCode(list, code string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(code)) {
			return true
		}
	}
	return false
}

// SplitCodes parses a comma-separated code list the way the directory stores
// classifications and credentials.
func SplitCodes(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			codes = append(codes, trimmed)
		}
	}
	return codes
}
