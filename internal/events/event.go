package events

import (
	"encoding/json"
	"time"
)

// Event is the envelope for every message observed on the scoring stream.
// Raw always carries the original frame; MatchNumber is only meaningful
// for TypeMatchStarted.
type Event struct {
	ID          string
	Type        Type
	MatchNumber int
	Received    time.Time
	Raw         json.RawMessage
}

type Type string

const (
	// TypeLivenessPong is the scoring system's keep-alive. It confirms the
	// stream is alive and is never forwarded as a domain update.
	TypeLivenessPong Type = "liveness_pong"
	// TypeMatchStarted fires when a match begins on a field.
	TypeMatchStarted Type = "match_started"
	// TypeGenericUpdate is any other well-formed scoring event
	// (match committed, abort, score post, ...).
	TypeGenericUpdate Type = "generic_update"
)
