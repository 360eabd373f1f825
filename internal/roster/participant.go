// Package roster holds the attendance roster for the active event: participants,
// identifier allocation, duplicate detection, mutation and summary counts.
package roster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Attendance is the tri-state attendance mark of a participant.
type Attendance int

const (
	Unmarked Attendance = iota
	Present
	Absent
)

func (a Attendance) String() string {
	switch a {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "unmarked"
	}
}

// ParseAttendance accepts "present", "absent" and "unmarked" in any case.
func ParseAttendance(value string) (Attendance, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "present":
		return Present, nil
	case "absent":
		return Absent, nil
	case "unmarked", "":
		return Unmarked, nil
	default:
		return Unmarked, &MalformedInputError{Reason: fmt.Sprintf("unknown attendance %q", value)}
	}
}

func (a Attendance) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts the canonical strings as well as the legacy
// null/true/false encoding.
func (a *Attendance) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "", "null":
		*a = Unmarked
		return nil
	case "true":
		*a = Present
		return nil
	case "false":
		*a = Absent
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &MalformedInputError{Reason: "attendance must be a string, boolean or null"}
	}
	parsed, err := ParseAttendance(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Participant is a single roster entry.
type Participant struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Entity     string     `json:"entity"`
	Attendance Attendance `json:"attendance"`
}

// wireParticipant also understands the field names used by older shared files.
type wireParticipant struct {
	ID         *int            `json:"id"`
	Name       *string         `json:"name"`
	Entity     *string         `json:"entity"`
	Attendance json.RawMessage `json:"attendance"`
	Nombre     *string         `json:"nombre"`
	Entidad    *string         `json:"entidad"`
	Asistencia json.RawMessage `json:"asistencia"`
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var wire wireParticipant
	if err := json.Unmarshal(data, &wire); err != nil {
		return &MalformedInputError{Reason: "participant must be an object"}
	}
	if wire.ID == nil {
		return &MalformedInputError{Reason: "participant id is required"}
	}
	decoded := Participant{ID: *wire.ID}
	switch {
	case wire.Name != nil:
		decoded.Name = *wire.Name
	case wire.Nombre != nil:
		decoded.Name = *wire.Nombre
	}
	switch {
	case wire.Entity != nil:
		decoded.Entity = *wire.Entity
	case wire.Entidad != nil:
		decoded.Entity = *wire.Entidad
	}
	mark := wire.Attendance
	if len(mark) == 0 {
		mark = wire.Asistencia
	}
	if len(mark) > 0 {
		if err := decoded.Attendance.UnmarshalJSON(mark); err != nil {
			return err
		}
	}
	*p = decoded
	return nil
}

// Candidate is a name/entity pair not yet admitted to the roster.
type Candidate struct {
	Name   string `json:"name"`
	Entity string `json:"entity"`
}

func (c Candidate) trimmed() Candidate {
	return Candidate{Name: strings.TrimSpace(c.Name), Entity: strings.TrimSpace(c.Entity)}
}

func (p Participant) valid() bool {
	return p.ID > 0 && strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.Entity) != ""
}
