package protocol

import "time"

// VideoFrame carries a single RGBA frame published by a remote producer.
// Pixels travel base64-encoded by encoding/json's []byte handling.
type VideoFrame struct {
	SessionID string `json:"session_id,omitempty"`
	Sequence  int    `json:"sequence"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Pix       []byte `json:"pix"`
}

// PresenceChange is broadcast whenever the gatekeeper flips between
// hand-present and hand-absent.
type PresenceChange struct {
	SessionID string    `json:"session_id"`
	Present   bool      `json:"present"`
	Timestamp time.Time `json:"timestamp"`
}

// Status carries a human-readable progress or error line for display.
type Status struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is a recognized gesture label with its arrival time.
type Result struct {
	SessionID string    `json:"session_id,omitempty"`
	Label     string    `json:"label"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Pending reports the number of classifier calls currently in flight.
type Pending struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeakRequest asks the speech pipeline to voice a recognized label.
type SpeakRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

// SpeakDone reports completion (or failure) of a playback.
type SpeakDone struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectVideoFrame   = "gesture.frame"
	SubjectPresence     = "gesture.presence"
	SubjectStatus       = "gesture.status"
	SubjectResult       = "gesture.result"
	SubjectPending      = "gesture.pending"
	SubjectSpeakRequest = "speech.request"
	SubjectSpeakDone    = "speech.done"
)
