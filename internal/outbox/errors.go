package outbox

import (
	"errors"
	"fmt"
)

// Kind classifies a send failure.
type Kind string

const (
	// AttachmentUploadFailed means an upload failed and no message was created.
	AttachmentUploadFailed Kind = "attachment_upload_failed"
	// NotConnected means the placeholder was created but could not be emitted;
	// it is marked failed and can be retried.
	NotConnected Kind = "not_connected"
)

var (
	ErrEmpty       = errors.New("message has no content and no attachments")
	ErrNotFailed   = errors.New("message is not in failed state")
	ErrUnknownSend = errors.New("no such pending message")
)

// SendError is returned by Send and Retry.
type SendError struct {
	Kind     Kind
	ClientID string
	File     string
	Err      error
}

func (e *SendError) Error() string {
	switch {
	case e.File != "":
		return fmt.Sprintf("send: %s (%s): %v", e.Kind, e.File, e.Err)
	case e.ClientID != "":
		return fmt.Sprintf("send %s: %s: %v", e.ClientID, e.Kind, e.Err)
	default:
		return fmt.Sprintf("send: %s: %v", e.Kind, e.Err)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *SendError of kind k.
func IsKind(err error, k Kind) bool {
	var se *SendError
	return errors.As(err, &se) && se.Kind == k
}

// Failure is the payload of send.failed bus events.
type Failure struct {
	ClientID       string `json:"client_id"`
	ConversationID int64  `json:"conversation_id"`
	Reason         string `json:"reason"`
}
