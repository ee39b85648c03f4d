package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// keep-alive token the scoring system sends between updates
var pongToken = []byte("pong")

// ParseError reports a frame that is neither the keep-alive token nor a
// well-formed JSON object.
type ParseError struct {
	Reason string
	Raw    []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable stream frame (%s): %.80q", e.Reason, e.Raw)
}

// Parse classifies a raw stream frame into an Event. The literal "pong"
// token becomes TypeLivenessPong; a JSON object with updateType MATCH_START
// and a match number becomes TypeMatchStarted; any other JSON object is a
// TypeGenericUpdate. Unknown shapes return a ParseError rather than a
// silently-empty event.
func Parse(raw []byte) (Event, error) {
	now := time.Now()

	if bytes.Equal(bytes.TrimSpace(raw), pongToken) {
		return Event{
			ID:       uuid.NewString(),
			Type:     TypeLivenessPong,
			Received: now,
			Raw:      append([]byte(nil), raw...),
		}, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, &ParseError{Reason: "not an object", Raw: raw}
	}

	var msg UpdateMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Event{}, &ParseError{Reason: err.Error(), Raw: raw}
	}

	evt := Event{
		ID:       uuid.NewString(),
		Type:     TypeGenericUpdate,
		Received: now,
		Raw:      append([]byte(nil), trimmed...),
	}

	if msg.UpdateType == UpdateTypeMatchStart {
		if msg.Payload.Number <= 0 {
			return Event{}, &ParseError{Reason: "match start without match number", Raw: raw}
		}
		evt.Type = TypeMatchStarted
		evt.MatchNumber = msg.Payload.Number
	}

	return evt, nil
}
