package app

import (
	"strings"

	"quiz-attempt-service/internal/domain"
)

// defaultRoster is the compiled-in allow-list used when no roster is configured.
var defaultRoster = []domain.Participant{
	{FirstName: "Anna", LastName: "Kovalenko"},
	{FirstName: "Ivan", LastName: "Petrenko"},
	{FirstName: "Olha", LastName: "Shevchenko"},
	{FirstName: "Dmytro", LastName: "Bondarenko"},
	{FirstName: "Maria", LastName: "Tkachenko"},
}

// Roster is a static allow-list of participants. Matching is exact on both fields.
type Roster struct {
	members map[domain.Participant]struct{}
}

// NewRoster builds a roster from the given participants.
func NewRoster(participants []domain.Participant) *Roster {
	members := make(map[domain.Participant]struct{}, len(participants))
	for _, p := range participants {
		members[p] = struct{}{}
	}
	return &Roster{members: members}
}

// DefaultRoster returns the compiled-in roster.
func DefaultRoster() *Roster {
	return NewRoster(defaultRoster)
}

// ParseRoster turns "First Last" entries into participants. The last
// whitespace-separated word is the last name; everything before it is the first name.
func ParseRoster(entries []string) []domain.Participant {
	out := make([]domain.Participant, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) < 2 {
			continue
		}
		out = append(out, domain.Participant{
			FirstName: strings.Join(fields[:len(fields)-1], " "),
			LastName:  fields[len(fields)-1],
		})
	}
	return out
}

// Contains reports whether the participant is on the roster.
func (r *Roster) Contains(p domain.Participant) bool {
	_, ok := r.members[p]
	return ok
}

// Len returns the number of roster entries.
func (r *Roster) Len() int {
	return len(r.members)
}
