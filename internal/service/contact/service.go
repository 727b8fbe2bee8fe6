package contact

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/logger"
)

// Service implements contact business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a contact service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// GetContact loads one aggregate by email_id.
func (s *Service) GetContact(ctx context.Context, emailID uuid.UUID) (*domain.Contact, error) {
	return s.repo.GetContact(ctx, emailID)
}

// FindContacts returns aggregates matching any alternate identifier.
func (s *Service) FindContacts(ctx context.Context, filter IDFilter) ([]domain.Contact, error) {
	if filter.Empty() {
		return nil, &domain.ValidationError{Field: "query", Msg: "at least one identifier is required"}
	}
	return s.repo.FindContacts(ctx, filter)
}

// CreateContact normalizes, validates, and persists a new aggregate.
func (s *Service) CreateContact(ctx context.Context, in *domain.ContactInput) (*domain.Contact, error) {
	now := s.now()
	req := legacyRequestFromInput(in)
	ops, _, err := BackportRelayNewsletters(NormalizeLegacyWaitlists(req, nil), req, nil)
	if err != nil {
		return nil, err
	}
	in.Waitlists = ops
	c, err := s.buildContact(in, nil, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateContact(ctx, c); err != nil {
		return nil, err
	}
	logger.Info("contact created", "email_id", c.Email.EmailID.String())
	return c, nil
}

// ReplaceContact is the PUT path: the aggregate's stored state becomes
// exactly the normalized payload. Returns created=true when no contact
// existed under this email_id before.
func (s *Service) ReplaceContact(ctx context.Context, emailID uuid.UUID, in *domain.ContactInput) (*domain.Contact, bool, error) {
	now := s.now()
	existing, err := s.repo.GetWaitlists(ctx, emailID)
	if err != nil {
		return nil, false, err
	}
	created := false
	if _, err := s.repo.GetContact(ctx, emailID); err == ErrNotFound {
		created = true
	} else if err != nil {
		return nil, false, err
	}

	req := legacyRequestFromInput(in)
	ops, _, err := BackportRelayNewsletters(NormalizeLegacyWaitlists(req, existing), req, existing)
	if err != nil {
		return nil, false, err
	}
	in.Waitlists = ops
	c, err := s.buildContact(in, &emailID, now)
	if err != nil {
		return nil, false, err
	}
	if err := s.repo.SaveContact(ctx, c); err != nil {
		return nil, false, err
	}
	return c, created, nil
}

// PatchContact applies a sparse update: legacy waitlist reconciliation
// first, then the per-group patch rules, then one atomic save.
func (s *Service) PatchContact(ctx context.Context, emailID uuid.UUID, patch *domain.ContactPatch) (*domain.Contact, error) {
	now := s.now()
	c, err := s.repo.GetContact(ctx, emailID)
	if err != nil {
		return nil, err
	}

	req := legacyRequestFromPatch(patch)
	ops, backported, err := BackportRelayNewsletters(NormalizeLegacyWaitlists(req, c.Waitlists), req, c.Waitlists)
	if err != nil {
		return nil, err
	}
	// An explicitly empty waitlists list does not shadow the legacy
	// scalars: the reconciled operations overwrite it. Only a non-empty
	// list or the bulk sentinel is taken as the current format.
	if len(ops) > 0 && !patch.Waitlists.UnsubscribeAll &&
		(len(patch.Waitlists.Entries) == 0 || backported) {
		merged, err := entriesFromInputs(ops)
		if err != nil {
			return nil, err
		}
		patch.Waitlists = domain.ListPatch{Present: true, Entries: merged}
	}

	if err := ApplyPatch(c, patch, now); err != nil {
		return nil, err
	}
	if err := s.repo.SaveContact(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteContact removes the aggregate and everything it owns.
func (s *Service) DeleteContact(ctx context.Context, emailID uuid.UUID) error {
	if err := s.repo.DeleteContact(ctx, emailID); err != nil {
		return err
	}
	logger.Info("contact deleted", "email_id", emailID.String())
	return nil
}

// buildContact materializes a full aggregate from a normalized input
// payload. pathEmailID is set on PUT, where the URL owns the identity.
func (s *Service) buildContact(in *domain.ContactInput, pathEmailID *uuid.UUID, now time.Time) (*domain.Contact, error) {
	if in.Email.PrimaryEmail == "" {
		return nil, &domain.ValidationError{Field: "email.primary_email", Msg: "is required"}
	}

	emailID := uuid.New()
	if in.Email.EmailID != nil {
		parsed, err := uuid.Parse(*in.Email.EmailID)
		if err != nil {
			return nil, &domain.ValidationError{Field: "email.email_id", Msg: "not a valid UUID"}
		}
		emailID = parsed
	}
	if pathEmailID != nil {
		if in.Email.EmailID != nil && emailID != *pathEmailID {
			return nil, &domain.ValidationError{Field: "email.email_id", Msg: "does not match the URL"}
		}
		emailID = *pathEmailID
	}

	basketToken := uuid.New()
	if in.Email.BasketToken != nil {
		parsed, err := uuid.Parse(*in.Email.BasketToken)
		if err != nil {
			return nil, &domain.ValidationError{Field: "email.basket_token", Msg: "not a valid UUID"}
		}
		basketToken = parsed
	}

	format := domain.FormatHTML
	if in.Email.EmailFormat != nil {
		format = *in.Email.EmailFormat
	}
	switch format {
	case domain.FormatHTML, domain.FormatText, domain.FormatNone, "":
	default:
		return nil, &domain.ValidationError{Field: "email.email_format", Msg: "must be H, T, N, or empty"}
	}
	lang := in.Email.EmailLang
	if lang == nil {
		en := "en"
		lang = &en
	}

	c := &domain.Contact{
		Email: domain.EmailIdentity{
			EmailID:            emailID,
			PrimaryEmail:       in.Email.PrimaryEmail,
			BasketToken:        basketToken,
			DoubleOptIn:        in.Email.DoubleOptIn,
			SfdcID:             in.Email.SfdcID,
			FirstName:          in.Email.FirstName,
			LastName:           in.Email.LastName,
			MailingCountry:     in.Email.MailingCountry,
			EmailFormat:        format,
			EmailLang:          lang,
			HasOptedOutOfEmail: in.Email.HasOptedOutOfEmail,
			UnsubscribeReason:  in.Email.UnsubscribeReason,
			CreateTimestamp:    now,
			UpdateTimestamp:    now,
		},
	}

	if in.AMO != nil && !in.AMO.IsDefault() {
		amo := *in.AMO
		amo.CreateTimestamp, amo.UpdateTimestamp = now, now
		c.AMO = &amo
	}
	if in.FxA != nil && !in.FxA.IsDefault() {
		fxa := *in.FxA
		fxa.CreateTimestamp, fxa.UpdateTimestamp = now, now
		c.FxA = &fxa
	}
	if in.MofO != nil && !in.MofO.IsDefault() {
		mofo := *in.MofO
		mofo.CreateTimestamp, mofo.UpdateTimestamp = now, now
		c.MofO = &mofo
	}

	seen := map[string]int{}
	for _, nl := range in.Newsletters {
		if nl.Name == "" {
			return nil, &domain.ValidationError{Field: "newsletters.name", Msg: "name is required"}
		}
		materialized := nl.ToNewsletter(now)
		if at, ok := seen[nl.Name]; ok {
			c.Newsletters[at] = materialized
			continue
		}
		seen[nl.Name] = len(c.Newsletters)
		c.Newsletters = append(c.Newsletters, materialized)
	}

	for _, wl := range in.Waitlists {
		if err := wl.Validate(); err != nil {
			return nil, err
		}
		if wl.IsDefault() {
			// All-default rows are never persisted.
			continue
		}
		if existing := c.FindWaitlist(wl.Name); existing != nil {
			*existing = wl.ToWaitlist(now)
			continue
		}
		c.Waitlists = append(c.Waitlists, wl.ToWaitlist(now))
	}

	return c, nil
}

func legacyRequestFromInput(in *domain.ContactInput) *LegacyWaitlistRequest {
	return &LegacyWaitlistRequest{
		Waitlists:   in.Waitlists,
		Newsletters: in.Newsletters,
		Vpn:         in.VpnWaitlist,
		Relay:       in.RelayWaitlist,
	}
}

func legacyRequestFromPatch(patch *domain.ContactPatch) *LegacyWaitlistRequest {
	req := &LegacyWaitlistRequest{
		WaitlistsUnsubscribeAll:   patch.Waitlists.UnsubscribeAll,
		NewslettersUnsubscribeAll: patch.Newsletters.UnsubscribeAll,
		Vpn:                       patch.VpnWaitlist,
		Relay:                     patch.RelayWaitlist,
	}
	for _, entry := range patch.Waitlists.Entries {
		var wl domain.WaitlistInput
		if err := json.Unmarshal(entry.Raw, &wl); err == nil {
			req.Waitlists = append(req.Waitlists, wl)
		}
	}
	for _, entry := range patch.Newsletters.Entries {
		req.Newsletters = append(req.Newsletters, domain.NewsletterInput{
			Name:       entry.Name,
			Subscribed: entry.Subscribed,
		})
	}
	return req
}

func entriesFromInputs(ops []domain.WaitlistInput) ([]domain.ListEntry, error) {
	entries := make([]domain.ListEntry, 0, len(ops))
	for _, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.ListEntry{Raw: raw, Name: op.Name, Subscribed: op.Subscribed})
	}
	return entries, nil
}
