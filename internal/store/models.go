package store

import "time"

// EventKind classifies an Event.
type EventKind string

const (
	KindInfo          EventKind = "INFO"
	KindError         EventKind = "ERROR"
	KindHeartbeat     EventKind = "HEARTBEAT"
	KindEncoderOutput EventKind = "ENCODER"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindInfo, KindError, KindHeartbeat, KindEncoderOutput:
		return true
	}
	return false
}

// Event is one immutable, timestamped record of something the system observed or did.
// VideoFile, StreamKey and ChannelName are optional; empty means absent.
type Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	Kind        EventKind `json:"kind"`
	Message     string    `json:"message"`
	VideoFile   string    `json:"video_file,omitempty"`
	StreamKey   string    `json:"stream_key,omitempty"`
	ChannelName string    `json:"channel_name,omitempty"`
}

// EventQuery selects events for RecentEvents. An empty SessionID matches all sessions.
type EventQuery struct {
	SessionID string
	Limit     int
}

// DefaultEventLimit applies when EventQuery.Limit is not positive.
const DefaultEventLimit = 50

func (q EventQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultEventLimit
	}
	return q.Limit
}

// Session is the persisted record of one streaming attempt.
// Status and EndedAt are updated as the session reaches a terminal state.
type Session struct {
	ID        string     `json:"session_id"`
	StartTime time.Time  `json:"start_time"`
	VideoFile string     `json:"video_file,omitempty"`
	Status    string     `json:"status,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionQuery selects sessions for ListSessions, newest first.
// OpenOnly restricts the result to sessions without an end time.
type SessionQuery struct {
	Limit    int
	OpenOnly bool
}

// ChannelCredential is a saved, previously authorized channel.
// AuthBlob is an opaque serialized token set.
type ChannelCredential struct {
	ChannelName string    `json:"channel_name"`
	ChannelID   string    `json:"channel_id"`
	AuthBlob    []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
}

// CredentialSummary is a ChannelCredential without its secret material.
type CredentialSummary struct {
	ChannelName string    `json:"channel_name"`
	ChannelID   string    `json:"channel_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
}

// Summary drops the auth blob.
func (c ChannelCredential) Summary() CredentialSummary {
	return CredentialSummary{
		ChannelName: c.ChannelName,
		ChannelID:   c.ChannelID,
		CreatedAt:   c.CreatedAt,
		LastUsed:    c.LastUsed,
	}
}
