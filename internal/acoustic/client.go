package acoustic

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mozilla-it/ctms-api-sub000/internal/config"
	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/httpretry"
)

// Uploader pushes one converted contact to the marketing platform.
type Uploader interface {
	UploadContact(ctx context.Context, records *Records) error
}

// UploadError is a rejection reported by the Acoustic API, as opposed
// to a transport failure. The fault text ends up in the pending-sync
// record's last_error column for operators.
type UploadError struct {
	Op    string
	Fault string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("acoustic %s: %s", e.Op, e.Fault)
}

// Client talks to the Acoustic (Silverpop) XML API. One main-table
// AddRecipient call plus one InsertUpdateRelationalTable call per
// non-empty relational row set make up a contact upload.
type Client struct {
	apiURL            string
	oauthURL          string
	clientID          string
	clientSecret      string
	refreshToken      string
	mainTableID       string
	newsletterTableID string
	waitlistTableID   string
	productTableID    string
	httpClient        httpretry.HTTPDoer

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates an Acoustic API client from configuration.
func NewClient(cfg config.AcousticConfig) *Client {
	base := fmt.Sprintf("https://api-campaign-us-%d.goacoustic.com", cfg.ServerNumber)
	return &Client{
		apiURL:            base + "/XMLAPI",
		oauthURL:          base + "/oauth/token",
		clientID:          cfg.ClientID,
		clientSecret:      cfg.ClientSecret,
		refreshToken:      cfg.RefreshToken,
		mainTableID:       cfg.MainTableID,
		newsletterTableID: cfg.NewsletterTableID,
		waitlistTableID:   cfg.WaitlistTableID,
		productTableID:    cfg.ProductTableID,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// UploadContact sends the main row and all relational rows. The calls
// are not transactional with each other; a repeat after partial failure
// re-sends everything, which Acoustic treats as an idempotent upsert.
func (c *Client) UploadContact(ctx context.Context, records *Records) error {
	if err := c.addRecipient(ctx, records.Main); err != nil {
		return err
	}
	tables := []struct {
		id   string
		rows []RelationalRow
	}{
		{c.newsletterTableID, records.Newsletters},
		{c.waitlistTableID, records.Waitlists},
		{c.productTableID, records.Products},
	}
	for _, t := range tables {
		if len(t.rows) == 0 || t.id == "" {
			continue
		}
		if err := c.insertUpdateRelationalTable(ctx, t.id, t.rows); err != nil {
			return err
		}
	}
	return nil
}

// addRecipient upserts the main-table row, keyed by email_id so a
// changed primary email updates the existing recipient.
func (c *Client) addRecipient(ctx context.Context, row MainRow) error {
	req := addRecipientRequest{
		ListID:        c.mainTableID,
		CreatedFrom:   3,
		UpdateIfFound: "TRUE",
	}
	req.SyncFields.Fields = []nameValue{{Name: "email_id", Value: row["email_id"]}}
	for _, name := range sortedKeys(row) {
		req.Columns = append(req.Columns, nameValue{Name: name, Value: row[name]})
	}
	return c.call(ctx, "AddRecipient", requestEnvelope{Body: requestBody{AddRecipient: &req}})
}

func (c *Client) insertUpdateRelationalTable(ctx context.Context, tableID string, rows []RelationalRow) error {
	req := insertUpdateTableRequest{TableID: tableID}
	for _, row := range rows {
		var xmlRow tableRow
		names := make([]string, 0, len(row))
		for name := range row {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			xmlRow.Columns = append(xmlRow.Columns, tableColumn{
				Name:  name,
				Value: fmt.Sprintf("%v", row[name]),
			})
		}
		req.Rows.Rows = append(req.Rows.Rows, xmlRow)
	}
	return c.call(ctx, "InsertUpdateRelationalTable", requestEnvelope{Body: requestBody{InsertUpdateTable: &req}})
}

// call posts one XML API request and surfaces faults and row failures
// as UploadError.
func (c *Client) call(ctx context.Context, op string, envelope requestEnvelope) error {
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("xml", xml.Header+string(payload))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("acoustic API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed apiResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("parsing %s response: %w", op, err)
	}
	// Main-table failures report via a Fault element, relational-table
	// failures via FAILURE rows. Both shapes occur in the wild.
	if fault := strings.TrimSpace(parsed.Body.Fault.FaultString); fault != "" {
		return &UploadError{Op: op, Fault: fault}
	}
	if len(parsed.Body.Result.Failures) > 0 {
		f := parsed.Body.Result.Failures[0]
		return &UploadError{Op: op, Fault: fmt.Sprintf("%s: %s", f.Type, f.Description)}
	}
	if !strings.EqualFold(parsed.Body.Result.Success, "TRUE") {
		return &UploadError{Op: op, Fault: "request was not successful"}
	}
	return nil
}

// token returns a cached OAuth access token, refreshing it shortly
// before expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", c.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token error (status %d): %s", resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func sortedKeys(row MainRow) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Request and response shapes for the XML API.

type requestEnvelope struct {
	XMLName xml.Name    `xml:"Envelope"`
	Body    requestBody `xml:"Body"`
}

type requestBody struct {
	AddRecipient      *addRecipientRequest      `xml:"AddRecipient,omitempty"`
	InsertUpdateTable *insertUpdateTableRequest `xml:"InsertUpdateRelationalTable,omitempty"`
}

type addRecipientRequest struct {
	ListID        string `xml:"LIST_ID"`
	CreatedFrom   int    `xml:"CREATED_FROM"`
	UpdateIfFound string `xml:"UPDATE_IF_FOUND"`
	SyncFields    struct {
		Fields []nameValue `xml:"SYNC_FIELD"`
	} `xml:"SYNC_FIELDS"`
	Columns []nameValue `xml:"COLUMN"`
}

type nameValue struct {
	Name  string `xml:"NAME"`
	Value string `xml:"VALUE"`
}

type insertUpdateTableRequest struct {
	TableID string `xml:"TABLE_ID"`
	Rows    struct {
		Rows []tableRow `xml:"ROW"`
	} `xml:"ROWS"`
}

type tableRow struct {
	Columns []tableColumn `xml:"COLUMN"`
}

type tableColumn struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type apiResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Result struct {
			Success  string      `xml:"SUCCESS"`
			Failures []rtFailure `xml:"FAILURES>FAILURE"`
		} `xml:"RESULT"`
		Fault struct {
			FaultString string `xml:"FaultString"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

type rtFailure struct {
	Type        string `xml:"failure_type,attr"`
	Description string `xml:"description,attr"`
}
