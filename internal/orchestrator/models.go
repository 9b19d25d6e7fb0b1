package orchestrator

import (
	"time"

	"ytlive-orchestrator/internal/encoder"
	"ytlive-orchestrator/internal/provisioner"
	"ytlive-orchestrator/internal/store"
)

// State is the lifecycle state of the orchestrator's current session.
type State string

const (
	StateIdle         State = "Idle"
	StateProvisioning State = "Provisioning"
	StateLive         State = "Live"
	StateStopping     State = "Stopping"
	StateStopped      State = "Stopped"
	StateFailed       State = "Failed"
)

// Active reports whether a session occupies the orchestrator in state s.
func (s State) Active() bool {
	return s == StateProvisioning || s == StateLive || s == StateStopping
}

// StartRequest asks for a new session streaming Video.
// Video is a file name inside the media directory or an absolute path.
type StartRequest struct {
	Video         string
	Title         string
	Description   string
	Privacy       string
	MadeForKids   bool
	DurationLimit time.Duration
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State       State               `json:"state"`
	SessionID   string              `json:"session_id,omitempty"`
	VideoFile   string              `json:"video_file,omitempty"`
	Channel     string              `json:"channel,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	Broadcast   *provisioner.Result `json:"broadcast,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	Events      []store.Event       `json:"events,omitempty"`
	EventsError string              `json:"events_error,omitempty"`
}

// Video is a media file available for streaming.
type Video struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// session is the in-memory state of the current or most recent session.
type session struct {
	id        string
	video     string
	channel   string
	startedAt time.Time
	result    *provisioner.Result
	lastErr   string

	stopRequested bool
	handle        *encoder.Handle
	heartbeat     chan struct{}

	// settled is closed when StartSession returns for this session.
	settled chan struct{}
}

// channel is the loaded credential sessions are provisioned with.
type channel struct {
	name string
	id   string
	prov Provisioner
}
