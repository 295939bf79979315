// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

// Handle identifies one relay connection. It is minted per connection
// and is not stable across reconnects.
type Handle string

// ParticipantRecord is the published state of one room member.
// Mutated in place by media-state and raise-hand events.
type ParticipantRecord struct {
	Handle     Handle `json:"socketId"`
	Name       string `json:"name"`
	MicOn      bool   `json:"micOn"`
	CamOn      bool   `json:"camOn"`
	HandRaised bool   `json:"hand"`
}

// NewParticipant builds a record with the default published state:
// mic on, cam on, hand down.
func NewParticipant(handle Handle, name string) (*ParticipantRecord, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &ParticipantRecord{
		Handle: handle,
		Name:   name,
		MicOn:  true,
		CamOn:  true,
	}, nil
}

// StatePatch is a partial update of the published state. Nil fields
// are left untouched.
type StatePatch struct {
	MicOn      *bool
	CamOn      *bool
	HandRaised *bool
}

// Apply merges the patch into the record.
func (p StatePatch) Apply(r *ParticipantRecord) {
	if p.MicOn != nil {
		r.MicOn = *p.MicOn
	}
	if p.CamOn != nil {
		r.CamOn = *p.CamOn
	}
	if p.HandRaised != nil {
		r.HandRaised = *p.HandRaised
	}
}
