// Package domain contains relay entities and wire vocabulary, no transport
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxSourceNameLen  = 64
	DefaultSourceName = "Camera"
)

var (
	ErrNameTooLong   = errors.New("name too long")
	ErrNameEmpty     = errors.New("name empty")
	ErrRoleConflict  = errors.New("role conflict")
	ErrInvalidRole   = errors.New("invalid role")
	ErrNotRegistered = errors.New("not registered")
)

// ConnID identifies one live transport session. It is assigned by the relay
// at connect time and never taken from the client.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

type Role string

const (
	RoleNone       Role = ""
	RoleSource     Role = "source"
	RoleController Role = "controller"
)

func (r Role) Valid() bool {
	return r == RoleSource || r == RoleController
}

// Opposite returns the role a negotiation peer must have.
func (r Role) Opposite() Role {
	switch r {
	case RoleSource:
		return RoleController
	case RoleController:
		return RoleSource
	}
	return RoleNone
}

// SourceMeta is what a source announces about itself at registration.
type SourceMeta struct {
	Name string `json:"name"`
}

// NewSourceMeta normalizes a display name. An absent name falls back to
// DefaultSourceName.
func NewSourceMeta(name string) (SourceMeta, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return SourceMeta{Name: DefaultSourceName}, nil
	}
	if len(name) > MaxSourceNameLen {
		return SourceMeta{}, ErrNameTooLong
	}
	return SourceMeta{Name: name}, nil
}

func (m *SourceMeta) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxSourceNameLen {
		return ErrNameTooLong
	}
	m.Name = name
	return nil
}

// SourceInfo is the read-only view of a registered source.
type SourceInfo struct {
	ID   ConnID `json:"id"`
	Name string `json:"name"`
}
