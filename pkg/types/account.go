package types

import "github.com/google/uuid"

// Account is the owner of a namespace of paths. The mutation core only
// needs existence and approval; everything else about accounts lives in
// the identity service.
type Account struct {
	ID       uuid.UUID `json:"id"`
	Login    string    `json:"login"`
	Approved bool      `json:"approved"`
}
