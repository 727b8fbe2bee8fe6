package contact

import (
	"context"

	"github.com/google/uuid"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
)

// Repository defines the data access contract for contact aggregates.
type Repository interface {
	// GetContact loads a full aggregate (email, sub-groups, newsletters,
	// waitlists, products). Returns ErrNotFound when absent.
	GetContact(ctx context.Context, emailID uuid.UUID) (*domain.Contact, error)

	// FindContacts returns every aggregate matching any of the given
	// alternate identifiers. At least one filter field must be set.
	FindContacts(ctx context.Context, filter IDFilter) ([]domain.Contact, error)

	// GetWaitlists loads only the waitlist rows of a contact. Used by the
	// legacy reconciler, which needs current waitlist state without the
	// rest of the aggregate.
	GetWaitlists(ctx context.Context, emailID uuid.UUID) ([]domain.Waitlist, error)

	// CreateContact inserts a new aggregate in one transaction and queues
	// it for downstream sync. Returns ErrConflict on uniqueness violation.
	CreateContact(ctx context.Context, c *domain.Contact) error

	// SaveContact writes the aggregate's full state in one transaction:
	// rows present in the aggregate are upserted, rows absent from it are
	// deleted, and the contact is queued for downstream sync. Either the
	// whole merged update commits or none of it does.
	SaveContact(ctx context.Context, c *domain.Contact) error

	// DeleteContact removes the aggregate and all owned rows.
	DeleteContact(ctx context.Context, emailID uuid.UUID) error
}

// IDFilter selects contacts by any alternate identifier.
type IDFilter struct {
	EmailID         *uuid.UUID
	PrimaryEmail    *string
	BasketToken     *uuid.UUID
	SfdcID          *string
	MofoContactID   *string
	MofoEmailID     *string
	AmoUserID       *string
	FxaID           *string
	FxaPrimaryEmail *string
}

// Empty reports whether no filter field is set.
func (f IDFilter) Empty() bool {
	return f.EmailID == nil && f.PrimaryEmail == nil && f.BasketToken == nil &&
		f.SfdcID == nil && f.MofoContactID == nil && f.MofoEmailID == nil &&
		f.AmoUserID == nil && f.FxaID == nil && f.FxaPrimaryEmail == nil
}
