// Package operation tracks a single token exchange through its linear
// lifecycle:
//
//	start → input_resolved → assertion_obtained → token_obtained → emitted
//
// Any non-terminal status may instead move to failed, which records the kind
// of the failure. Both emitted and failed are terminal.
package operation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomasbasham/pyx-auth/internal/failure"
)

// Status represents the lifecycle state of an operation.
type Status string

const (
	StatusStart             Status = "start"
	StatusInputResolved     Status = "input_resolved"
	StatusAssertionObtained Status = "assertion_obtained"
	StatusTokenObtained     Status = "token_obtained"
	StatusEmitted           Status = "emitted"
	StatusFailed            Status = "failed"
)

// predecessor maps each forward status to the only status it may follow.
var predecessor = map[Status]Status{
	StatusInputResolved:     StatusStart,
	StatusAssertionObtained: StatusInputResolved,
	StatusTokenObtained:     StatusAssertionObtained,
	StatusEmitted:           StatusTokenObtained,
}

// Operation represents a single exchange invocation. It never holds the
// identity assertion or the upload token.
type Operation struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UploadURL string    `json:"upload_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Kind and Error are set once the operation reaches StatusFailed.
	Kind  failure.Kind `json:"kind,omitempty"`
	Error string       `json:"error,omitempty"`
}

func New() *Operation {
	now := time.Now()
	return &Operation{
		ID:        uuid.New().String(),
		Status:    StatusStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the operation has finished.
func (op *Operation) Terminal() bool {
	return op.Status == StatusEmitted || op.Status == StatusFailed
}

func (op *Operation) MarkResolved(uploadURL string) error {
	return op.advance(StatusInputResolved, func() {
		op.UploadURL = uploadURL
	})
}

func (op *Operation) MarkAssertionObtained() error {
	return op.advance(StatusAssertionObtained, nil)
}

func (op *Operation) MarkTokenObtained() error {
	return op.advance(StatusTokenObtained, nil)
}

func (op *Operation) MarkEmitted() error {
	return op.advance(StatusEmitted, nil)
}

// MarkFailed moves the operation to StatusFailed, recording the kind carried
// by err. Kind stays empty for unclassified errors.
func (op *Operation) MarkFailed(err error) error {
	if op.Terminal() {
		return fmt.Errorf("operation %s: cannot fail from terminal status %s", op.ID, op.Status)
	}
	kind, _ := failure.KindOf(err)
	op.Status = StatusFailed
	op.Kind = kind
	op.Error = err.Error()
	op.UpdatedAt = time.Now()
	return nil
}

func (op *Operation) advance(next Status, fn func()) error {
	if want := predecessor[next]; op.Status != want {
		return fmt.Errorf("operation %s: cannot move to %s from %s", op.ID, next, op.Status)
	}
	if fn != nil {
		fn()
	}
	op.Status = next
	op.UpdatedAt = time.Now()
	return nil
}
