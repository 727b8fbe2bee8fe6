package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailFormat values accepted by the contact API.
// H=HTML, T=plain text, N/empty=no selection.
const (
	FormatHTML = "H"
	FormatText = "T"
	FormatNone = "N"
)

// EmailIdentity is the central per-contact record. Exactly one exists per
// contact; deleting it deletes the contact.
type EmailIdentity struct {
	EmailID            uuid.UUID `json:"email_id"`
	PrimaryEmail       string    `json:"primary_email"`
	BasketToken        uuid.UUID `json:"basket_token"`
	DoubleOptIn        bool      `json:"double_opt_in"`
	SfdcID             *string   `json:"sfdc_id"`
	FirstName          *string   `json:"first_name"`
	LastName           *string   `json:"last_name"`
	MailingCountry     *string   `json:"mailing_country"`
	EmailFormat        string    `json:"email_format"`
	EmailLang          *string   `json:"email_lang"`
	HasOptedOutOfEmail bool      `json:"has_opted_out_of_email"`
	UnsubscribeReason  *string   `json:"unsubscribe_reason"`
	CreateTimestamp    time.Time `json:"create_timestamp"`
	UpdateTimestamp    time.Time `json:"update_timestamp"`
}

// Contact is the aggregate root, keyed by EmailIdentity.EmailID.
// Sub-entities are exclusively owned: no sharing across contacts.
type Contact struct {
	Email       EmailIdentity         `json:"email"`
	AMO         *AMOAccount           `json:"amo"`
	FxA         *FxAAccount           `json:"fxa"`
	MofO        *MofoContact          `json:"mofo"`
	Newsletters []Newsletter          `json:"newsletters"`
	Waitlists   []Waitlist            `json:"waitlists"`
	Products    []ProductSubscription `json:"products"`
}

// FindNewsletter returns the newsletter with the given name, or nil.
func (c *Contact) FindNewsletter(name string) *Newsletter {
	for i := range c.Newsletters {
		if c.Newsletters[i].Name == name {
			return &c.Newsletters[i]
		}
	}
	return nil
}

// FindWaitlist returns the waitlist with the given name, or nil.
func (c *Contact) FindWaitlist(name string) *Waitlist {
	for i := range c.Waitlists {
		if c.Waitlists[i].Name == name {
			return &c.Waitlists[i]
		}
	}
	return nil
}

// RelayWaitlists returns every waitlist whose name starts with "relay",
// which includes the plain "relay" waitlist and bundles like
// "relay-vpn-bundle". The legacy relay_waitlist scalar aliases all of them.
func (c *Contact) RelayWaitlists() []*Waitlist {
	var out []*Waitlist
	for i := range c.Waitlists {
		if c.Waitlists[i].IsRelay() {
			out = append(out, &c.Waitlists[i])
		}
	}
	return out
}

// ProductSubscription is a Stripe-derived product association. It is carried
// through to the marketing platform as one relational row per product.
type ProductSubscription struct {
	PaymentService     string     `json:"payment_service"`
	ProductID          *string    `json:"product_id"`
	ProductName        *string    `json:"product_name"`
	PriceID            *string    `json:"price_id"`
	Segment            string     `json:"segment"`
	Changed            *time.Time `json:"changed"`
	SubCount           int        `json:"sub_count"`
	Status             *string    `json:"status"`
	Currency           *string    `json:"currency"`
	Amount             *int64     `json:"amount"`
	Interval           *string    `json:"interval"`
	IntervalCount      *int64     `json:"interval_count"`
	Created            *time.Time `json:"created"`
	Start              *time.Time `json:"start"`
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CanceledAt         *time.Time `json:"canceled_at"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	EndedAt            *time.Time `json:"ended_at"`
}
