package roster

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// ShareParam is the query parameter that carries an encoded roster.
const ShareParam = "data"

// Snapshot is the full shareable state of the roster.
type Snapshot struct {
	Participants []Participant `json:"participants"`
	CurrentEvent string        `json:"currentEvent,omitempty"`
	EventDate    string        `json:"eventDate,omitempty"`
}

// EncodeSnapshot renders the snapshot as the downloadable JSON file.
func EncodeSnapshot(snapshot Snapshot) ([]byte, error) {
	if snapshot.Participants == nil {
		snapshot.Participants = []Participant{}
	}
	return json.MarshalIndent(snapshot, "", "  ")
}

// DecodeSnapshot parses a shared payload. The payload must carry a
// participants array; entries without a positive id, a name or an entity, and
// entries repeating an earlier id, are dropped and counted.
func DecodeSnapshot(data []byte) (Snapshot, int, error) {
	var envelope struct {
		Participants json.RawMessage `json:"participants"`
		CurrentEvent any             `json:"currentEvent"`
		EventDate    any             `json:"eventDate"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Snapshot{}, 0, &MalformedInputError{Reason: "payload is not a JSON object"}
	}
	raw := bytes.TrimSpace(envelope.Participants)
	if len(raw) == 0 || raw[0] != '[' {
		return Snapshot{}, 0, &MalformedInputError{Reason: "payload has no participants array"}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Snapshot{}, 0, &MalformedInputError{Reason: "participants is not an array"}
	}

	snapshot := Snapshot{Participants: make([]Participant, 0, len(entries))}
	if name, ok := envelope.CurrentEvent.(string); ok {
		snapshot.CurrentEvent = name
	}
	if date, ok := envelope.EventDate.(string); ok {
		snapshot.EventDate = date
	}

	dropped := 0
	seen := make(map[int]struct{}, len(entries))
	for _, entry := range entries {
		var p Participant
		if err := json.Unmarshal(entry, &p); err != nil {
			dropped++
			continue
		}
		p.Name = strings.TrimSpace(p.Name)
		p.Entity = strings.TrimSpace(p.Entity)
		if !p.valid() {
			dropped++
			continue
		}
		if _, dup := seen[p.ID]; dup {
			dropped++
			continue
		}
		seen[p.ID] = struct{}{}
		snapshot.Participants = append(snapshot.Participants, p)
	}
	return snapshot, dropped, nil
}

// EncodeURLParam returns base with the snapshot attached as the data parameter.
func EncodeURLParam(base string, snapshot Snapshot) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", &MalformedInputError{Reason: "invalid base url"}
	}
	if snapshot.Participants == nil {
		snapshot.Participants = []Participant{}
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set(ShareParam, string(payload))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// DecodeURLParam extracts a snapshot from the data parameter of rawURL. The
// boolean is false when the parameter is absent. Values that were encoded
// twice, as older links were, are unescaped once more before parsing.
func DecodeURLParam(rawURL string) (Snapshot, bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Snapshot{}, false, &MalformedInputError{Reason: "invalid url"}
	}
	value := parsed.Query().Get(ShareParam)
	if value == "" {
		return Snapshot{}, false, nil
	}
	snapshot, _, err := DecodeSnapshot([]byte(value))
	if err == nil {
		return snapshot, true, nil
	}
	unescaped, unescapeErr := url.QueryUnescape(value)
	if unescapeErr != nil || unescaped == value {
		return Snapshot{}, true, err
	}
	snapshot, _, err = DecodeSnapshot([]byte(unescaped))
	if err != nil {
		return Snapshot{}, true, err
	}
	return snapshot, true, nil
}
