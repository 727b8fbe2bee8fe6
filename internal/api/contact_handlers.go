package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/httputil"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

// CreateContact handles POST /ctms.
func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var in domain.ContactInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.contacts.CreateContact(r.Context(), &in)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.Created(w, NewContactResponse(c))
}

// ListContacts handles GET /ctms, selecting by alternate identifiers.
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeContactError(w, err)
		return
	}
	found, err := h.contacts.FindContacts(r.Context(), filter)
	if err != nil {
		writeContactError(w, err)
		return
	}
	out := make([]ContactResponse, 0, len(found))
	for i := range found {
		out = append(out, NewContactResponse(&found[i]))
	}
	httputil.OK(w, out)
}

// GetContact handles GET /ctms/{email_id}.
func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	emailID, ok := emailIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.contacts.GetContact(r.Context(), emailID)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, NewContactResponse(c))
}

// GetContactIdentity handles GET /ctms/{email_id}/identity.
func (h *Handlers) GetContactIdentity(w http.ResponseWriter, r *http.Request) {
	emailID, ok := emailIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.contacts.GetContact(r.Context(), emailID)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, NewIdentityResponse(c))
}

// UpdateContact handles PUT /ctms/{email_id}: the stored contact
// becomes exactly the given payload. A previously unknown email_id is
// created rather than rejected, so idempotent writers need no
// create-then-update dance.
func (h *Handlers) UpdateContact(w http.ResponseWriter, r *http.Request) {
	emailID, ok := emailIDParam(w, r)
	if !ok {
		return
	}
	var in domain.ContactInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, created, err := h.contacts.ReplaceContact(r.Context(), emailID, &in)
	if err != nil {
		writeContactError(w, err)
		return
	}
	if created {
		httputil.Created(w, NewContactResponse(c))
		return
	}
	httputil.OK(w, NewContactResponse(c))
}

// PatchContact handles PATCH /ctms/{email_id}: a sparse update where
// absent keys leave stored state untouched.
func (h *Handlers) PatchContact(w http.ResponseWriter, r *http.Request) {
	emailID, ok := emailIDParam(w, r)
	if !ok {
		return
	}
	var patch domain.ContactPatch
	if !httputil.Decode(w, r, &patch) {
		return
	}
	c, err := h.contacts.PatchContact(r.Context(), emailID, &patch)
	if err != nil {
		writeContactError(w, err)
		return
	}
	httputil.OK(w, NewContactResponse(c))
}

// DeleteContact handles DELETE /ctms/{email_id}.
func (h *Handlers) DeleteContact(w http.ResponseWriter, r *http.Request) {
	emailID, ok := emailIDParam(w, r)
	if !ok {
		return
	}
	if err := h.contacts.DeleteContact(r.Context(), emailID); err != nil {
		writeContactError(w, err)
		return
	}
	httputil.NoContent(w)
}

func emailIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "email_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.UnprocessableEntity(w, "email_id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func filterFromQuery(r *http.Request) (contact.IDFilter, error) {
	var filter contact.IDFilter
	q := r.URL.Query()

	if v := q.Get("email_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, &domain.ValidationError{Field: "email_id", Msg: "not a valid UUID"}
		}
		filter.EmailID = &id
	}
	if v := q.Get("basket_token"); v != "" {
		token, err := uuid.Parse(v)
		if err != nil {
			return filter, &domain.ValidationError{Field: "basket_token", Msg: "not a valid UUID"}
		}
		filter.BasketToken = &token
	}
	filter.PrimaryEmail = optional(q.Get("primary_email"))
	filter.SfdcID = optional(q.Get("sfdc_id"))
	filter.MofoContactID = optional(q.Get("mofo_contact_id"))
	filter.MofoEmailID = optional(q.Get("mofo_email_id"))
	filter.AmoUserID = optional(q.Get("amo_user_id"))
	filter.FxaID = optional(q.Get("fxa_id"))
	filter.FxaPrimaryEmail = optional(q.Get("fxa_primary_email"))
	return filter, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// writeContactError maps service errors to API status codes. Conflicts
// stay generic so callers cannot probe which identifier collided.
func writeContactError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		httputil.UnprocessableEntity(w, vErr.Error())
	case errors.Is(err, contact.ErrNotFound):
		httputil.NotFound(w, "contact not found")
	case errors.Is(err, contact.ErrConflict):
		httputil.Conflict(w, "contact already exists")
	default:
		httputil.InternalError(w, err)
	}
}
