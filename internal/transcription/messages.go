package transcription

// Wire protocol: JSON control messages plus raw little-endian float32 PCM
// binary frames over the same websocket connection.

// SpeakerEventKind distinguishes the two speaker activity transitions.
type SpeakerEventKind string

const (
	SpeakerStart SpeakerEventKind = "START"
	SpeakerEnd   SpeakerEventKind = "END"
)

// SpeakerEvent is a speaker transition timestamped against a specific
// session identity. Events carrying a uid other than the currently open
// session's are stale and never sent.
type SpeakerEvent struct {
	Kind             SpeakerEventKind
	ParticipantID    string
	ParticipantLabel string
	RelativeMs       int64
	UID              string
}

// TranscriptSegment is one piece of transcript received from the backend.
// Completed distinguishes finalized text from interim hypotheses.
type TranscriptSegment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
}

// configMessage is sent immediately after connect.
type configMessage struct {
	UID        string `json:"uid"`
	Language   string `json:"language"`
	Task       string `json:"task"`
	Platform   string `json:"platform"`
	Token      string `json:"token"`
	MeetingID  string `json:"meeting_id"`
	MeetingURL string `json:"meeting_url"`
}

// speakerActivityMessage carries one speaker transition to the backend.
type speakerActivityMessage struct {
	Type              string `json:"type"`
	EventType         string `json:"event_type"`
	ParticipantName   string `json:"participant_name"`
	ParticipantID     string `json:"participant_id"`
	RelativeTimestamp int64  `json:"relative_client_timestamp_ms"`
	UID               string `json:"uid"`
	Token             string `json:"token"`
	Platform          string `json:"platform"`
	MeetingID         string `json:"meeting_id"`
}

// sessionControlMessage signals explicit session boundaries.
type sessionControlMessage struct {
	Type            string `json:"type"`
	Event           string `json:"event"`
	UID             string `json:"uid"`
	ClientTimestamp int64  `json:"client_timestamp_ms"`
	Token           string `json:"token"`
	Platform        string `json:"platform"`
	MeetingID       string `json:"meeting_id"`
}

// serverMessage is everything the backend sends: either a control status
// (for example "WAIT" when the server is at capacity) or transcript
// segments.
type serverMessage struct {
	Status   string              `json:"status"`
	Segments []TranscriptSegment `json:"segments"`
}

const (
	messageTypeSpeakerActivity = "speaker_activity"
	messageTypeSessionControl  = "session_control"

	sessionEventStart = "session_start"
	sessionEventEnd   = "session_end"

	statusWait = "WAIT"
)
