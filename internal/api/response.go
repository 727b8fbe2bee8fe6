package api

import (
	"github.com/google/uuid"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

// ContactResponse is the public JSON shape of one contact. Absent
// sub-groups render as all-default objects rather than null, and the
// legacy vpn_waitlist/relay_waitlist scalars are computed from the
// normalized waitlist rows on every read.
type ContactResponse struct {
	Email         domain.EmailIdentity         `json:"email"`
	AMO           domain.AMOAccount            `json:"amo"`
	FxA           domain.FxAAccount            `json:"fxa"`
	MofO          domain.MofoContact           `json:"mofo"`
	Newsletters   []domain.Newsletter          `json:"newsletters"`
	Waitlists     []domain.Waitlist            `json:"waitlists"`
	Products      []domain.ProductSubscription `json:"products"`
	VpnWaitlist   domain.VpnWaitlistView       `json:"vpn_waitlist"`
	RelayWaitlist domain.RelayWaitlistView     `json:"relay_waitlist"`
}

// NewContactResponse builds the response shape from an aggregate.
func NewContactResponse(c *domain.Contact) ContactResponse {
	resp := ContactResponse{
		Email:       c.Email,
		Newsletters: c.Newsletters,
		Waitlists:   c.Waitlists,
		Products:    c.Products,
	}
	if c.AMO != nil {
		resp.AMO = *c.AMO
	}
	if c.FxA != nil {
		resp.FxA = *c.FxA
	}
	if c.MofO != nil {
		resp.MofO = *c.MofO
	}
	if resp.Newsletters == nil {
		resp.Newsletters = []domain.Newsletter{}
	}
	if resp.Waitlists == nil {
		resp.Waitlists = []domain.Waitlist{}
	}
	if resp.Products == nil {
		resp.Products = []domain.ProductSubscription{}
	}
	resp.VpnWaitlist, resp.RelayWaitlist = contact.ToLegacyView(c)
	return resp
}

// IdentityResponse lists every identifier a contact can be looked up by.
type IdentityResponse struct {
	EmailID         uuid.UUID `json:"email_id"`
	PrimaryEmail    string    `json:"primary_email"`
	BasketToken     uuid.UUID `json:"basket_token"`
	SfdcID          *string   `json:"sfdc_id"`
	AmoUserID       *string   `json:"amo_user_id"`
	FxaID           *string   `json:"fxa_id"`
	FxaPrimaryEmail *string   `json:"fxa_primary_email"`
	MofoEmailID     *string   `json:"mofo_email_id"`
	MofoContactID   *string   `json:"mofo_contact_id"`
}

// NewIdentityResponse collects the identifiers scattered across the
// aggregate's sub-groups.
func NewIdentityResponse(c *domain.Contact) IdentityResponse {
	out := IdentityResponse{
		EmailID:      c.Email.EmailID,
		PrimaryEmail: c.Email.PrimaryEmail,
		BasketToken:  c.Email.BasketToken,
		SfdcID:       c.Email.SfdcID,
	}
	if c.AMO != nil {
		out.AmoUserID = c.AMO.UserID
	}
	if c.FxA != nil {
		out.FxaID = c.FxA.FxAID
		out.FxaPrimaryEmail = c.FxA.PrimaryEmail
	}
	if c.MofO != nil {
		out.MofoEmailID = c.MofO.MofoEmailID
		out.MofoContactID = c.MofO.MofoContactID
	}
	return out
}
