package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var (
	testEmailID = uuid.MustParse("332de237-cab7-4461-bcc3-48e68f42bd5c")
	testToken   = uuid.MustParse("c4a7d759-bb52-457b-896b-90f1d3ef8433")
	testTime    = time.Date(2022, 3, 1, 8, 30, 0, 0, time.UTC)
)

func emailRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"email_id", "primary_email", "basket_token", "double_opt_in", "sfdc_id",
		"first_name", "last_name", "mailing_country", "email_format", "email_lang",
		"has_opted_out_of_email", "unsubscribe_reason", "create_timestamp", "update_timestamp",
	}).AddRow(testEmailID, "contact@example.com", testToken, true, nil,
		"Jane", nil, "fr", "H", "en", false, nil, testTime, testTime)
}

func expectChildLoads(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM amo").WithArgs(testEmailID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM fxa").WithArgs(testEmailID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM mofo").WithArgs(testEmailID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM newsletters").WithArgs(testEmailID).
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "subscribed", "format", "lang", "source", "unsub_reason",
			"create_timestamp", "update_timestamp",
		}).AddRow("firefox-news", true, "H", "en", nil, nil, testTime, testTime))
	mock.ExpectQuery("SELECT (.+) FROM waitlists").WithArgs(testEmailID).
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "source", "fields", "subscribed", "unsub_reason",
			"create_timestamp", "update_timestamp",
		}).AddRow("vpn", nil, []byte(`{"geo": "fr"}`), true, nil, testTime, testTime))
	mock.ExpectQuery("SELECT (.+) FROM contact_products").WithArgs(testEmailID).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_service", "product_id", "product_name", "price_id", "segment",
			"changed", "sub_count", "status", "currency", "amount", "billing_interval",
			"interval_count", "created", "start", "current_period_start",
			"current_period_end", "canceled_at", "cancel_at_period_end", "ended_at",
		}))
}

func TestGetContact(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM emails").WithArgs(testEmailID).
		WillReturnRows(emailRows())
	expectChildLoads(mock)

	repo := NewContactRepo(db)
	c, err := repo.GetContact(context.Background(), testEmailID)
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}

	if c.Email.PrimaryEmail != "contact@example.com" {
		t.Errorf("primary_email = %q", c.Email.PrimaryEmail)
	}
	if c.AMO != nil || c.FxA != nil || c.MofO != nil {
		t.Error("absent sub-groups should stay nil")
	}
	if len(c.Newsletters) != 1 || c.Newsletters[0].Name != "firefox-news" {
		t.Errorf("newsletters = %+v", c.Newsletters)
	}
	if len(c.Waitlists) != 1 || c.Waitlists[0].Fields["geo"] != "fr" {
		t.Errorf("waitlists = %+v", c.Waitlists)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetContact_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM emails").WithArgs(testEmailID).
		WillReturnError(sql.ErrNoRows)

	repo := NewContactRepo(db)
	_, err := repo.GetContact(context.Background(), testEmailID)
	if err != contact.ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateContact(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO emails").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pending_acoustic_record").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lang := "en"
	c := &domain.Contact{
		Email: domain.EmailIdentity{
			EmailID: testEmailID, PrimaryEmail: "contact@example.com",
			BasketToken: testToken, EmailFormat: "H", EmailLang: &lang,
			CreateTimestamp: testTime, UpdateTimestamp: testTime,
		},
		Newsletters: []domain.Newsletter{
			{Name: "firefox-news", Subscribed: true, Format: "H", Lang: &lang},
		},
	}

	repo := NewContactRepo(db)
	if err := repo.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("CreateContact() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateContact_UniqueViolationIsConflict(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO emails").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	lang := "en"
	c := &domain.Contact{Email: domain.EmailIdentity{
		EmailID: testEmailID, PrimaryEmail: "taken@example.com",
		BasketToken: testToken, EmailFormat: "H", EmailLang: &lang,
	}}

	repo := NewContactRepo(db)
	if err := repo.CreateContact(context.Background(), c); err != contact.ErrConflict {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestSaveContact_PrunesAbsentRows(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO emails").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Nil sub-groups are deleted, then list rows outside the aggregate
	// are pruned by name.
	mock.ExpectExec("DELETE FROM amo").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM fxa").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM mofo").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM newsletters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM waitlists").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO waitlists").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pending_acoustic_record").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lang := "en"
	c := &domain.Contact{
		Email: domain.EmailIdentity{
			EmailID: testEmailID, PrimaryEmail: "contact@example.com",
			BasketToken: testToken, EmailFormat: "H", EmailLang: &lang,
		},
		Waitlists: []domain.Waitlist{
			{Name: "vpn", Subscribed: true, Fields: map[string]any{"geo": "fr"}},
		},
	}

	repo := NewContactRepo(db)
	if err := repo.SaveContact(context.Background(), c); err != nil {
		t.Fatalf("SaveContact() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteContact(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	for _, table := range []string{
		"pending_acoustic_record", "contact_products", "waitlists",
		"newsletters", "amo", "fxa", "mofo",
	} {
		mock.ExpectExec("DELETE FROM " + table).WithArgs(testEmailID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("DELETE FROM emails").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewContactRepo(db)
	if err := repo.DeleteContact(context.Background(), testEmailID); err != nil {
		t.Fatalf("DeleteContact() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteContact_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	for _, table := range []string{
		"pending_acoustic_record", "contact_products", "waitlists",
		"newsletters", "amo", "fxa", "mofo",
	} {
		mock.ExpectExec("DELETE FROM " + table).WithArgs(testEmailID).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("DELETE FROM emails").WithArgs(testEmailID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewContactRepo(db)
	if err := repo.DeleteContact(context.Background(), testEmailID); err != contact.ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFindContacts_BuildsFilterClauses(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	email := "contact@example.com"
	fxaID := "fxa-abc"
	mock.ExpectQuery("SELECT DISTINCT e.email_id FROM emails e").
		WithArgs(email, fxaID).
		WillReturnRows(sqlmock.NewRows([]string{"email_id"}).AddRow(testEmailID))
	mock.ExpectQuery("SELECT (.+) FROM emails").WithArgs(testEmailID).
		WillReturnRows(emailRows())
	expectChildLoads(mock)

	repo := NewContactRepo(db)
	found, err := repo.FindContacts(context.Background(), contact.IDFilter{
		PrimaryEmail: &email,
		FxaID:        &fxaID,
	})
	if err != nil {
		t.Fatalf("FindContacts() error: %v", err)
	}
	if len(found) != 1 || found[0].Email.EmailID != testEmailID {
		t.Errorf("found = %+v", found)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
