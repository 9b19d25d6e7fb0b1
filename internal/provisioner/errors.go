package provisioner

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrAuth means the channel credential is invalid or expired; the user must re-authorize.
	ErrAuth = errors.New("authorization failed")

	// ErrRejected means the API refused the request.
	ErrRejected = errors.New("request rejected by youtube")

	// ErrTransport means the API could not be reached or timed out. Callers may retry.
	ErrTransport = errors.New("transport failure")
)

// Step names one remote call of the provisioning sequence.
type Step string

const (
	StepValidate        Step = "validate"
	StepCreateStream    Step = "create_stream"
	StepCreateBroadcast Step = "create_broadcast"
	StepBind            Step = "bind"
	StepIdentify        Step = "identify_channel"
	StepConnect         Step = "connect"
)

// Error reports a failed provisioning step. StreamID and BroadcastID name
// remote resources that were already created and are left in place.
type Error struct {
	Kind        error
	Step        Step
	StreamID    string
	BroadcastID string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
	if e.StreamID != "" {
		msg += fmt.Sprintf(" (orphaned stream %s", e.StreamID)
		if e.BroadcastID != "" {
			msg += fmt.Sprintf(", broadcast %s", e.BroadcastID)
		}
		msg += ")"
	}
	return msg
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Classify maps a client error onto ErrAuth, ErrRejected or ErrTransport.
func Classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return ErrAuth
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return ErrAuth
		case gerr.Code >= 500:
			return ErrTransport
		case gerr.Code >= 400:
			return ErrRejected
		}
	}
	if errors.Is(err, ErrNoChannel) {
		return ErrRejected
	}
	// Timeouts, cancelled contexts and network errors all land here.
	return ErrTransport
}

func stepError(step Step, err error, streamID, broadcastID string) *Error {
	return &Error{
		Kind:        Classify(err),
		Step:        step,
		StreamID:    streamID,
		BroadcastID: broadcastID,
		Err:         err,
	}
}
