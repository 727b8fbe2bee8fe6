package contact

import "errors"

// Sentinel errors for the contact service layer.
var (
	// ErrNotFound means no contact exists for the requested identifier.
	ErrNotFound = errors.New("contact not found")

	// ErrConflict means a uniqueness constraint (primary_email,
	// basket_token, fxa_id, mofo ids) collided with a different contact.
	// The API deliberately does not reveal which field collided.
	ErrConflict = errors.New("contact already exists")
)
