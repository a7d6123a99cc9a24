package models

import (
	"errors"

	"github.com/google/uuid"
)

// Identity is an opaque stable identifier of a principal.
// Collaborators build it from their own primary keys and compare it by equality only.
type Identity struct {
	id uuid.UUID
}

func NewIdentity(id uuid.UUID) Identity {
	return Identity{id: id}
}

// Decode identity from its string form. Nil uuid is not an identity
func ParseIdentity(value string) (Identity, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return Identity{}, err
	}
	if id == uuid.Nil {
		return Identity{}, errors.New("nil identity")
	}
	return NewIdentity(id), nil
}

func (i Identity) UUID() uuid.UUID {
	return i.id
}

func (i Identity) String() string {
	return i.id.String()
}

func (i Identity) IsZero() bool {
	return i.id == uuid.Nil
}

// Principal is an authenticated caller.
// Username is informational only and must not be used for authorization decisions.
type Principal struct {
	Identity Identity
	Username string
}
