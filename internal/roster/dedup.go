package roster

import "strings"

// IsDuplicate reports whether the candidate matches an existing participant on
// both name and entity, ignoring case. Inputs are expected to be trimmed already.
func IsDuplicate(candidate Candidate, participants []Participant) bool {
	for _, p := range participants {
		if strings.EqualFold(p.Name, candidate.Name) && strings.EqualFold(p.Entity, candidate.Entity) {
			return true
		}
	}
	return false
}
