package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

// memRepo backs the real service with in-memory storage for router tests.
type memRepo struct {
	contacts map[uuid.UUID]*domain.Contact
}

func (m *memRepo) GetContact(ctx context.Context, emailID uuid.UUID) (*domain.Contact, error) {
	c, ok := m.contacts[emailID]
	if !ok {
		return nil, contact.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *memRepo) FindContacts(ctx context.Context, filter contact.IDFilter) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range m.contacts {
		if filter.PrimaryEmail != nil && c.Email.PrimaryEmail != *filter.PrimaryEmail {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memRepo) GetWaitlists(ctx context.Context, emailID uuid.UUID) ([]domain.Waitlist, error) {
	if c, ok := m.contacts[emailID]; ok {
		return c.Waitlists, nil
	}
	return nil, nil
}

func (m *memRepo) CreateContact(ctx context.Context, c *domain.Contact) error {
	for _, other := range m.contacts {
		if other.Email.PrimaryEmail == c.Email.PrimaryEmail {
			return contact.ErrConflict
		}
	}
	clone := *c
	m.contacts[c.Email.EmailID] = &clone
	return nil
}

func (m *memRepo) SaveContact(ctx context.Context, c *domain.Contact) error {
	clone := *c
	m.contacts[c.Email.EmailID] = &clone
	return nil
}

func (m *memRepo) DeleteContact(ctx context.Context, emailID uuid.UUID) error {
	if _, ok := m.contacts[emailID]; !ok {
		return contact.ErrNotFound
	}
	delete(m.contacts, emailID)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *memRepo) {
	t.Helper()
	repo := &memRepo{contacts: map[uuid.UUID]*domain.Contact{}}
	svc := contact.NewService(repo)
	return SetupRoutes(NewHandlers(svc, nil)), repo
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateContactEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/ctms", `{
		"email": {"primary_email": "new@example.com"},
		"vpn_waitlist": {"geo": "fr"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ContactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "new@example.com", resp.Email.PrimaryEmail)
	assert.NotEqual(t, uuid.Nil, resp.Email.EmailID)
	require.NotNil(t, resp.VpnWaitlist.Geo)
	assert.Equal(t, "fr", *resp.VpnWaitlist.Geo)
	// Lists render as [], sub-groups as all-default objects, never null.
	assert.NotNil(t, resp.Newsletters)
	assert.NotNil(t, resp.Products)
}

func TestCreateContactEndpoint_Conflict(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"email": {"primary_email": "dup@example.com"}}`

	rec := doJSON(t, router, http.MethodPost, "/ctms", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/ctms", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact already exists")
}

func TestCreateContactEndpoint_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/ctms", `{"email": {}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetContactEndpoint(t *testing.T) {
	router, repo := newTestRouter(t)
	emailID := uuid.New()
	repo.contacts[emailID] = &domain.Contact{
		Email: domain.EmailIdentity{EmailID: emailID, PrimaryEmail: "x@example.com"},
	}

	rec := doJSON(t, router, http.MethodGet, "/ctms/"+emailID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ContactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, emailID, resp.Email.EmailID)
}

func TestGetContactIdentityEndpoint(t *testing.T) {
	router, repo := newTestRouter(t)
	emailID := uuid.New()
	token := uuid.New()
	fxaID := "fxa-123"
	repo.contacts[emailID] = &domain.Contact{
		Email: domain.EmailIdentity{
			EmailID: emailID, PrimaryEmail: "id@example.com", BasketToken: token,
		},
		FxA: &domain.FxAAccount{FxAID: &fxaID},
	}

	rec := doJSON(t, router, http.MethodGet, "/ctms/"+emailID.String()+"/identity", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, emailID, resp.EmailID)
	assert.Equal(t, token, resp.BasketToken)
	require.NotNil(t, resp.FxaID)
	assert.Equal(t, "fxa-123", *resp.FxaID)
	assert.Nil(t, resp.AmoUserID)
}

func TestGetContactEndpoint_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/ctms/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetContactEndpoint_BadUUID(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/ctms/not-a-uuid", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListContactsEndpoint(t *testing.T) {
	router, repo := newTestRouter(t)
	emailID := uuid.New()
	repo.contacts[emailID] = &domain.Contact{
		Email: domain.EmailIdentity{EmailID: emailID, PrimaryEmail: "find@example.com"},
	}

	rec := doJSON(t, router, http.MethodGet, "/ctms?primary_email=find@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []ContactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, emailID, out[0].Email.EmailID)
}

func TestListContactsEndpoint_NoFilter(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/ctms", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateContactEndpoint_CreatesOn201(t *testing.T) {
	router, _ := newTestRouter(t)
	emailID := uuid.New()

	rec := doJSON(t, router, http.MethodPut, "/ctms/"+emailID.String(),
		`{"email": {"primary_email": "put@example.com"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/ctms/"+emailID.String(),
		`{"email": {"primary_email": "put2@example.com"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPatchContactEndpoint(t *testing.T) {
	router, repo := newTestRouter(t)
	emailID := uuid.New()
	repo.contacts[emailID] = &domain.Contact{
		Email: domain.EmailIdentity{EmailID: emailID, PrimaryEmail: "patch@example.com", EmailFormat: "H"},
	}

	rec := doJSON(t, router, http.MethodPatch, "/ctms/"+emailID.String(),
		`{"email": {"first_name": "Jane"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ContactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Email.FirstName)
	assert.Equal(t, "Jane", *resp.Email.FirstName)
}

func TestDeleteContactEndpoint(t *testing.T) {
	router, repo := newTestRouter(t)
	emailID := uuid.New()
	repo.contacts[emailID] = &domain.Contact{
		Email: domain.EmailIdentity{EmailID: emailID, PrimaryEmail: "del@example.com"},
	}

	rec := doJSON(t, router, http.MethodDelete, "/ctms/"+emailID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/ctms/"+emailID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHeartbeatEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	repo := &memRepo{contacts: map[uuid.UUID]*domain.Contact{}}
	router := SetupRoutes(NewHandlers(contact.NewService(repo), db))

	rec := doJSON(t, router, http.MethodGet, "/__heartbeat__", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":true`)
}

func TestLBHeartbeatEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/__lbheartbeat__", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
