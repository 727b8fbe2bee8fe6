package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

// ContactRepo implements contact.Repository against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const emailColumns = `
	email_id, primary_email, basket_token, double_opt_in, sfdc_id,
	first_name, last_name, mailing_country, email_format, email_lang,
	has_opted_out_of_email, unsubscribe_reason, create_timestamp, update_timestamp`

func (r *ContactRepo) GetContact(ctx context.Context, emailID uuid.UUID) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE email_id = $1
	`, emailID).Scan(
		&c.Email.EmailID, &c.Email.PrimaryEmail, &c.Email.BasketToken,
		&c.Email.DoubleOptIn, &c.Email.SfdcID, &c.Email.FirstName,
		&c.Email.LastName, &c.Email.MailingCountry, &c.Email.EmailFormat,
		&c.Email.EmailLang, &c.Email.HasOptedOutOfEmail,
		&c.Email.UnsubscribeReason, &c.Email.CreateTimestamp, &c.Email.UpdateTimestamp,
	)
	if err == sql.ErrNoRows {
		return nil, contact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}

	if err := r.loadSubGroups(ctx, c); err != nil {
		return nil, err
	}
	if c.Newsletters, err = r.loadNewsletters(ctx, emailID); err != nil {
		return nil, err
	}
	if c.Waitlists, err = r.GetWaitlists(ctx, emailID); err != nil {
		return nil, err
	}
	if c.Products, err = r.loadProducts(ctx, emailID); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepo) FindContacts(ctx context.Context, filter contact.IDFilter) ([]domain.Contact, error) {
	q := `
		SELECT DISTINCT e.email_id
		FROM emails e
		LEFT JOIN amo ON amo.email_id = e.email_id
		LEFT JOIN fxa ON fxa.email_id = e.email_id
		LEFT JOIN mofo ON mofo.email_id = e.email_id
		WHERE 1=1`
	args := []interface{}{}
	idx := 1
	add := func(clause string, val interface{}) {
		q += fmt.Sprintf(" AND "+clause, idx)
		args = append(args, val)
		idx++
	}

	if filter.EmailID != nil {
		add("e.email_id = $%d", *filter.EmailID)
	}
	if filter.PrimaryEmail != nil {
		add("LOWER(e.primary_email) = LOWER($%d)", *filter.PrimaryEmail)
	}
	if filter.BasketToken != nil {
		add("e.basket_token = $%d", *filter.BasketToken)
	}
	if filter.SfdcID != nil {
		add("e.sfdc_id = $%d", *filter.SfdcID)
	}
	if filter.AmoUserID != nil {
		add("amo.user_id = $%d", *filter.AmoUserID)
	}
	if filter.FxaID != nil {
		add("fxa.fxa_id = $%d", *filter.FxaID)
	}
	if filter.FxaPrimaryEmail != nil {
		add("LOWER(fxa.primary_email) = LOWER($%d)", *filter.FxaPrimaryEmail)
	}
	if filter.MofoContactID != nil {
		add("mofo.mofo_contact_id = $%d", *filter.MofoContactID)
	}
	if filter.MofoEmailID != nil {
		add("mofo.mofo_email_id = $%d", *filter.MofoEmailID)
	}
	q += " ORDER BY e.email_id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}

	out := make([]domain.Contact, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetContact(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *ContactRepo) GetWaitlists(ctx context.Context, emailID uuid.UUID) ([]domain.Waitlist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, source, fields, subscribed, unsub_reason, create_timestamp, update_timestamp
		FROM waitlists
		WHERE email_id = $1
		ORDER BY name
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("get waitlists: %w", err)
	}
	defer rows.Close()

	var out []domain.Waitlist
	for rows.Next() {
		var wl domain.Waitlist
		var fields []byte
		if err := rows.Scan(&wl.Name, &wl.Source, &fields, &wl.Subscribed,
			&wl.UnsubReason, &wl.CreateTimestamp, &wl.UpdateTimestamp); err != nil {
			return nil, fmt.Errorf("scan waitlist: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &wl.Fields); err != nil {
				return nil, fmt.Errorf("decode waitlist fields: %w", err)
			}
		}
		out = append(out, wl)
	}
	return out, rows.Err()
}

func (r *ContactRepo) CreateContact(ctx context.Context, c *domain.Contact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.Email.EmailID, c.Email.PrimaryEmail, c.Email.BasketToken,
		c.Email.DoubleOptIn, c.Email.SfdcID, c.Email.FirstName,
		c.Email.LastName, c.Email.MailingCountry, c.Email.EmailFormat,
		c.Email.EmailLang, c.Email.HasOptedOutOfEmail,
		c.Email.UnsubscribeReason, c.Email.CreateTimestamp, c.Email.UpdateTimestamp)
	if err != nil {
		return mapConflict("create email", err)
	}

	if err := r.writeChildren(ctx, tx, c); err != nil {
		return err
	}
	if err := scheduleSync(ctx, tx, c.Email.EmailID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

func (r *ContactRepo) SaveContact(ctx context.Context, c *domain.Contact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (email_id) DO UPDATE SET
			primary_email = EXCLUDED.primary_email,
			basket_token = EXCLUDED.basket_token,
			double_opt_in = EXCLUDED.double_opt_in,
			sfdc_id = EXCLUDED.sfdc_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			mailing_country = EXCLUDED.mailing_country,
			email_format = EXCLUDED.email_format,
			email_lang = EXCLUDED.email_lang,
			has_opted_out_of_email = EXCLUDED.has_opted_out_of_email,
			unsubscribe_reason = EXCLUDED.unsubscribe_reason,
			update_timestamp = EXCLUDED.update_timestamp
	`, c.Email.EmailID, c.Email.PrimaryEmail, c.Email.BasketToken,
		c.Email.DoubleOptIn, c.Email.SfdcID, c.Email.FirstName,
		c.Email.LastName, c.Email.MailingCountry, c.Email.EmailFormat,
		c.Email.EmailLang, c.Email.HasOptedOutOfEmail,
		c.Email.UnsubscribeReason, c.Email.CreateTimestamp, c.Email.UpdateTimestamp)
	if err != nil {
		return mapConflict("save email", err)
	}

	// Full-state write: rows absent from the aggregate are removed so
	// stored state converges to exactly what the aggregate holds.
	if err := r.deleteAbsent(ctx, tx, c); err != nil {
		return err
	}
	if err := r.writeChildren(ctx, tx, c); err != nil {
		return err
	}
	if err := scheduleSync(ctx, tx, c.Email.EmailID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (r *ContactRepo) DeleteContact(ctx context.Context, emailID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"pending_acoustic_record", "contact_products", "waitlists",
		"newsletters", "amo", "fxa", "mofo",
	} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE email_id = $1", table), emailID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM emails WHERE email_id = $1`, emailID)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return contact.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (r *ContactRepo) loadSubGroups(ctx context.Context, c *domain.Contact) error {
	var amo domain.AMOAccount
	err := r.db.QueryRowContext(ctx, `
		SELECT add_on_ids, display_name, email_opt_in, language, last_login,
		       location, profile_url, "user", user_id, username,
		       create_timestamp, update_timestamp
		FROM amo WHERE email_id = $1
	`, c.Email.EmailID).Scan(
		&amo.AddOnIDs, &amo.DisplayName, &amo.EmailOptIn, &amo.Language,
		&amo.LastLogin, &amo.Location, &amo.ProfileURL, &amo.User,
		&amo.UserID, &amo.Username, &amo.CreateTimestamp, &amo.UpdateTimestamp)
	if err == nil {
		c.AMO = &amo
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("get amo: %w", err)
	}

	var fxa domain.FxAAccount
	err = r.db.QueryRowContext(ctx, `
		SELECT fxa_id, primary_email, created_date, lang, first_service,
		       account_deleted, create_timestamp, update_timestamp
		FROM fxa WHERE email_id = $1
	`, c.Email.EmailID).Scan(
		&fxa.FxAID, &fxa.PrimaryEmail, &fxa.CreatedDate, &fxa.Lang,
		&fxa.FirstService, &fxa.AccountDeleted, &fxa.CreateTimestamp, &fxa.UpdateTimestamp)
	if err == nil {
		c.FxA = &fxa
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("get fxa: %w", err)
	}

	var mofo domain.MofoContact
	err = r.db.QueryRowContext(ctx, `
		SELECT mofo_email_id, mofo_contact_id, mofo_relevant,
		       create_timestamp, update_timestamp
		FROM mofo WHERE email_id = $1
	`, c.Email.EmailID).Scan(
		&mofo.MofoEmailID, &mofo.MofoContactID, &mofo.MofoRelevant,
		&mofo.CreateTimestamp, &mofo.UpdateTimestamp)
	if err == nil {
		c.MofO = &mofo
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("get mofo: %w", err)
	}
	return nil
}

func (r *ContactRepo) loadNewsletters(ctx context.Context, emailID uuid.UUID) ([]domain.Newsletter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, subscribed, format, lang, source, unsub_reason,
		       create_timestamp, update_timestamp
		FROM newsletters
		WHERE email_id = $1
		ORDER BY name
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("get newsletters: %w", err)
	}
	defer rows.Close()

	var out []domain.Newsletter
	for rows.Next() {
		var nl domain.Newsletter
		if err := rows.Scan(&nl.Name, &nl.Subscribed, &nl.Format, &nl.Lang,
			&nl.Source, &nl.UnsubReason, &nl.CreateTimestamp, &nl.UpdateTimestamp); err != nil {
			return nil, fmt.Errorf("scan newsletter: %w", err)
		}
		out = append(out, nl)
	}
	return out, rows.Err()
}

func (r *ContactRepo) loadProducts(ctx context.Context, emailID uuid.UUID) ([]domain.ProductSubscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payment_service, product_id, product_name, price_id, segment,
		       changed, sub_count, status, currency, amount, billing_interval,
		       interval_count, created, start, current_period_start,
		       current_period_end, canceled_at, cancel_at_period_end, ended_at
		FROM contact_products
		WHERE email_id = $1
		ORDER BY product_id
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	var out []domain.ProductSubscription
	for rows.Next() {
		var p domain.ProductSubscription
		if err := rows.Scan(&p.PaymentService, &p.ProductID, &p.ProductName,
			&p.PriceID, &p.Segment, &p.Changed, &p.SubCount, &p.Status,
			&p.Currency, &p.Amount, &p.Interval, &p.IntervalCount, &p.Created,
			&p.Start, &p.CurrentPeriodStart, &p.CurrentPeriodEnd,
			&p.CanceledAt, &p.CancelAtPeriodEnd, &p.EndedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// writeChildren upserts every child row the aggregate holds.
func (r *ContactRepo) writeChildren(ctx context.Context, tx *sql.Tx, c *domain.Contact) error {
	emailID := c.Email.EmailID

	if c.AMO != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO amo (email_id, add_on_ids, display_name, email_opt_in,
				language, last_login, location, profile_url, "user", user_id,
				username, create_timestamp, update_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (email_id) DO UPDATE SET
				add_on_ids = EXCLUDED.add_on_ids,
				display_name = EXCLUDED.display_name,
				email_opt_in = EXCLUDED.email_opt_in,
				language = EXCLUDED.language,
				last_login = EXCLUDED.last_login,
				location = EXCLUDED.location,
				profile_url = EXCLUDED.profile_url,
				"user" = EXCLUDED."user",
				user_id = EXCLUDED.user_id,
				username = EXCLUDED.username,
				update_timestamp = EXCLUDED.update_timestamp
		`, emailID, c.AMO.AddOnIDs, c.AMO.DisplayName, c.AMO.EmailOptIn,
			c.AMO.Language, c.AMO.LastLogin, c.AMO.Location, c.AMO.ProfileURL,
			c.AMO.User, c.AMO.UserID, c.AMO.Username,
			c.AMO.CreateTimestamp, c.AMO.UpdateTimestamp)
		if err != nil {
			return mapConflict("save amo", err)
		}
	}

	if c.FxA != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fxa (email_id, fxa_id, primary_email, created_date,
				lang, first_service, account_deleted, create_timestamp, update_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (email_id) DO UPDATE SET
				fxa_id = EXCLUDED.fxa_id,
				primary_email = EXCLUDED.primary_email,
				created_date = EXCLUDED.created_date,
				lang = EXCLUDED.lang,
				first_service = EXCLUDED.first_service,
				account_deleted = EXCLUDED.account_deleted,
				update_timestamp = EXCLUDED.update_timestamp
		`, emailID, c.FxA.FxAID, c.FxA.PrimaryEmail, c.FxA.CreatedDate,
			c.FxA.Lang, c.FxA.FirstService, c.FxA.AccountDeleted,
			c.FxA.CreateTimestamp, c.FxA.UpdateTimestamp)
		if err != nil {
			return mapConflict("save fxa", err)
		}
	}

	if c.MofO != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mofo (email_id, mofo_email_id, mofo_contact_id,
				mofo_relevant, create_timestamp, update_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (email_id) DO UPDATE SET
				mofo_email_id = EXCLUDED.mofo_email_id,
				mofo_contact_id = EXCLUDED.mofo_contact_id,
				mofo_relevant = EXCLUDED.mofo_relevant,
				update_timestamp = EXCLUDED.update_timestamp
		`, emailID, c.MofO.MofoEmailID, c.MofO.MofoContactID,
			c.MofO.MofoRelevant, c.MofO.CreateTimestamp, c.MofO.UpdateTimestamp)
		if err != nil {
			return mapConflict("save mofo", err)
		}
	}

	for _, nl := range c.Newsletters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO newsletters (email_id, name, subscribed, format, lang,
				source, unsub_reason, create_timestamp, update_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (email_id, name) DO UPDATE SET
				subscribed = EXCLUDED.subscribed,
				format = EXCLUDED.format,
				lang = EXCLUDED.lang,
				source = EXCLUDED.source,
				unsub_reason = EXCLUDED.unsub_reason,
				update_timestamp = EXCLUDED.update_timestamp
		`, emailID, nl.Name, nl.Subscribed, nl.Format, nl.Lang, nl.Source,
			nl.UnsubReason, nl.CreateTimestamp, nl.UpdateTimestamp)
		if err != nil {
			return mapConflict("save newsletter", err)
		}
	}

	for _, wl := range c.Waitlists {
		fields, err := json.Marshal(wl.Fields)
		if err != nil {
			return fmt.Errorf("encode waitlist fields: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO waitlists (email_id, name, source, fields, subscribed,
				unsub_reason, create_timestamp, update_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (email_id, name) DO UPDATE SET
				source = EXCLUDED.source,
				fields = EXCLUDED.fields,
				subscribed = EXCLUDED.subscribed,
				unsub_reason = EXCLUDED.unsub_reason,
				update_timestamp = EXCLUDED.update_timestamp
		`, emailID, wl.Name, wl.Source, fields, wl.Subscribed,
			wl.UnsubReason, wl.CreateTimestamp, wl.UpdateTimestamp)
		if err != nil {
			return mapConflict("save waitlist", err)
		}
	}
	return nil
}

// deleteAbsent removes child rows the aggregate no longer carries.
func (r *ContactRepo) deleteAbsent(ctx context.Context, tx *sql.Tx, c *domain.Contact) error {
	emailID := c.Email.EmailID

	if c.AMO == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM amo WHERE email_id = $1`, emailID); err != nil {
			return fmt.Errorf("delete amo: %w", err)
		}
	}
	if c.FxA == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fxa WHERE email_id = $1`, emailID); err != nil {
			return fmt.Errorf("delete fxa: %w", err)
		}
	}
	if c.MofO == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mofo WHERE email_id = $1`, emailID); err != nil {
			return fmt.Errorf("delete mofo: %w", err)
		}
	}

	nlNames := make([]string, 0, len(c.Newsletters))
	for _, nl := range c.Newsletters {
		nlNames = append(nlNames, nl.Name)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM newsletters WHERE email_id = $1 AND name != ALL($2)
	`, emailID, pq.Array(nlNames)); err != nil {
		return fmt.Errorf("prune newsletters: %w", err)
	}

	wlNames := make([]string, 0, len(c.Waitlists))
	for _, wl := range c.Waitlists {
		wlNames = append(wlNames, wl.Name)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM waitlists WHERE email_id = $1 AND name != ALL($2)
	`, emailID, pq.Array(wlNames)); err != nil {
		return fmt.Errorf("prune waitlists: %w", err)
	}
	return nil
}

// scheduleSync queues the contact for the background Acoustic sync.
// A contact already queued keeps its retry count but moves to the back
// of the due queue.
func scheduleSync(ctx context.Context, tx *sql.Tx, emailID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_acoustic_record (email_id, retry, create_timestamp, update_timestamp)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (email_id) DO UPDATE SET update_timestamp = NOW()
	`, emailID)
	if err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	return nil
}

// mapConflict translates Postgres unique violations into the service
// layer's conflict sentinel.
func mapConflict(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return contact.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
