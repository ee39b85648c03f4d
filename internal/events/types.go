package events

// MatchPayload is the inner match block on a scoring stream update.
type MatchPayload struct {
	Number    int    `json:"number"`
	ShortName string `json:"shortName"`
	Field     int    `json:"field"`
}

// UpdateMessage is the full frame the scoring system pushes on its stream.
// UpdateTime is Unix millis at the field.
type UpdateMessage struct {
	UpdateTime int64        `json:"updateTime"`
	UpdateType string       `json:"updateType"`
	Payload    MatchPayload `json:"payload"`
}

// Stream updateType values we act on. Everything else passes through as a
// generic update.
const UpdateTypeMatchStart = "MATCH_START"

// MatchSeed is a partial match record for schedule initialization. Optional
// fields are pointers so an upsert only overwrites what the seed carries.
type MatchSeed struct {
	Number    int     `json:"number"`
	ShortName *string `json:"shortName,omitempty"`
	Field     *int    `json:"field,omitempty"`
	Red1      *int    `json:"red1,omitempty"`
	Red2      *int    `json:"red2,omitempty"`
	Blue1     *int    `json:"blue1,omitempty"`
	Blue2     *int    `json:"blue2,omitempty"`
}

// InitializeRequest seeds the schedule store with an event's team list and
// match schedule. Sent by the agent at startup and by admins on re-runs.
type InitializeRequest struct {
	Teams   []int       `json:"teams"`
	Matches []MatchSeed `json:"matches"`
}
