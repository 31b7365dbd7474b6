// Package anaf is the HTTP client for the tax authority's OAuth2 identity
// service and the e-Factura / SPV web service API.
package anaf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
	"github.com/teresa-solution/fiscal-compliance-service/internal/ratelimit"
)

// Scope is requested on every authorization.
const Scope = "SPVWebServiceAccess SPVWebServiceUpload"

const (
	messageLayout   = "200601021504"
	maxResponseBody = 10 << 20
)

// Config holds the authority endpoints and OAuth client registration.
type Config struct {
	AuthBaseURL     string        `yaml:"auth_base_url"`
	APIBaseURL      string        `yaml:"api_base_url"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	RedirectURL     string        `yaml:"redirect_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	MessageDays     int           `yaml:"message_days"`
}

// DefaultConfig points at the production endpoints.
func DefaultConfig() Config {
	return Config{
		AuthBaseURL:     "https://logincert.anaf.ro/anaf-oauth2/v1",
		APIBaseURL:      "https://api.anaf.ro/prod/FCTEL/rest",
		Timeout:         30 * time.Second,
		RefreshTokenTTL: 365 * 24 * time.Hour,
		MessageDays:     60,
	}
}

// Client talks to the authority. Every call first takes a token from the
// rate limiter and fails fast with *errs.RateLimitedError when none is
// available.
type Client struct {
	cfg     Config
	http    *http.Client
	oauth   *oauth2.Config
	limiter *ratelimit.Limiter
	clock   clock.Clock
}

func NewClient(cfg Config, limiter *ratelimit.Limiter, clk clock.Clock) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   strings.TrimRight(cfg.AuthBaseURL, "/") + "/authorize",
				TokenURL:  strings.TrimRight(cfg.AuthBaseURL, "/") + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		limiter: limiter,
		clock:   clk,
	}
}

// UploadResult is the authority's answer to an upload.
type UploadResult struct {
	UploadIndex string
}

type uploadResponse struct {
	ExecutionStatus *int          `json:"ExecutionStatus"`
	IndexIncarcare  flexString    `json:"index_incarcare"`
	Errors          []errorDetail `json:"Errors"`
}

type errorDetail struct {
	ErrorMessage string `json:"errorMessage"`
}

// StatusResponse is the raw status of an upload.
type StatusResponse struct {
	Stare      string
	DownloadID string
	Errors     []string
}

type statusResponse struct {
	Stare        string        `json:"stare"`
	IDDescarcare flexString    `json:"id_descarcare"`
	Errors       []errorDetail `json:"Errors"`
}

// Message is one entry of the SPV inbox.
type Message struct {
	ID          string
	IssuerTaxID string
	RequestID   string
	CreatedAt   time.Time
	Type        string
	Details     string
}

type messageItem struct {
	ID           flexString `json:"id"`
	CifEmitent   flexString `json:"cif_emitent"`
	IDSolicitare flexString `json:"id_solicitare"`
	DataCreare   string     `json:"data_creare"`
	Tip          string     `json:"tip"`
	Detalii      string     `json:"detalii"`
}

// UploadInvoice sends a UBL invoice for taxID.
func (c *Client) UploadInvoice(ctx context.Context, accessToken, taxID string, document []byte) (*UploadResult, error) {
	q := url.Values{"standard": {"UBL"}, "cif": {taxID}}
	return c.upload(ctx, accessToken, q, document)
}

// UploadAuditFile sends a D406 document for taxID and period (YYYY-MM).
func (c *Client) UploadAuditFile(ctx context.Context, accessToken, taxID, period string, document []byte) (*UploadResult, error) {
	q := url.Values{"cif": {taxID}, "perioada": {period}}
	return c.upload(ctx, accessToken, q, document)
}

func (c *Client) upload(ctx context.Context, accessToken string, q url.Values, document []byte) (*UploadResult, error) {
	var resp uploadResponse
	if err := c.call(ctx, ratelimit.OpUpload, http.MethodPost, "/upload", q, accessToken, document, &resp); err != nil {
		return nil, err
	}
	if resp.ExecutionStatus != nil && *resp.ExecutionStatus != 0 {
		msgs := errorMessages(resp.Errors)
		log.Warn().Int("execution_status", *resp.ExecutionStatus).Strs("errors", msgs).Msg("Upload rejected by authority")
		return nil, &errs.AuthorityRejectedError{Messages: msgs}
	}
	if resp.IndexIncarcare == "" {
		return nil, &errs.TransportError{Op: ratelimit.OpUpload, Err: errors.New("response carries no upload index")}
	}
	return &UploadResult{UploadIndex: string(resp.IndexIncarcare)}, nil
}

// Status returns the processing state of an upload.
func (c *Client) Status(ctx context.Context, accessToken, uploadIndex string) (*StatusResponse, error) {
	var resp statusResponse
	path := "/status/" + url.PathEscape(uploadIndex)
	if err := c.call(ctx, ratelimit.OpStatus, http.MethodGet, path, nil, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &StatusResponse{
		Stare:      resp.Stare,
		DownloadID: string(resp.IDDescarcare),
		Errors:     errorMessages(resp.Errors),
	}, nil
}

// Messages lists the SPV inbox of taxID for the last days.
func (c *Client) Messages(ctx context.Context, accessToken, taxID string, days int) ([]Message, error) {
	if days <= 0 {
		days = c.cfg.MessageDays
	}
	q := url.Values{"cif": {taxID}, "zile": {strconv.Itoa(days)}, "pagina": {"1"}}

	var raw json.RawMessage
	if err := c.call(ctx, ratelimit.OpMessages, http.MethodGet, "/messages", q, accessToken, nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeMessages(raw)
	if err != nil {
		return nil, &errs.TransportError{Op: ratelimit.OpMessages, Err: err}
	}

	out := make([]Message, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		m := Message{
			ID:          string(it.ID),
			IssuerTaxID: string(it.CifEmitent),
			RequestID:   string(it.IDSolicitare),
			Type:        it.Tip,
			Details:     it.Detalii,
		}
		if t, err := time.ParseInLocation(messageLayout, it.DataCreare, bucharest); err == nil {
			m.CreatedAt = t
		}
		out = append(out, m)
	}
	return out, nil
}

// decodeMessages accepts a bare list or an object with a "mesaje" list.
func decodeMessages(raw json.RawMessage) ([]messageItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var items []messageItem
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Mesaje []messageItem `json:"mesaje"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return wrapped.Mesaje, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, q url.Values, accessToken string, body []byte, out interface{}) error {
	if err := c.limiter.Allow(ratelimit.ANAF, op); err != nil {
		return err
	}

	u := strings.TrimRight(c.cfg.APIBaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return &errs.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	monitoring.AuthorityRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		monitoring.AuthorityRequests.WithLabelValues(op, "transport_error").Inc()
		return &errs.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		monitoring.AuthorityRequests.WithLabelValues(op, "transport_error").Inc()
		return &errs.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if err := c.checkResponse(op, resp, data); err != nil {
		return err
	}
	monitoring.AuthorityRequests.WithLabelValues(op, "ok").Inc()

	if err := json.Unmarshal(data, out); err != nil {
		return &errs.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) checkResponse(op string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		monitoring.AuthorityRequests.WithLabelValues(op, "rate_limited").Inc()
		return &errs.RateLimitedError{
			Integration: ratelimit.ANAF,
			Operation:   op,
			RetryAfter:  retryAfter(resp.Header.Get("Retry-After"), c.clock.Now()),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		monitoring.AuthorityRequests.WithLabelValues(op, "unauthorized").Inc()
		return fmt.Errorf("%s: %w", op, errs.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		monitoring.AuthorityRequests.WithLabelValues(op, "http_error").Inc()
		return &errs.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Missing or unparsable values mean one second.
func retryAfter(h string, now time.Time) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return time.Second
}

func errorMessages(details []errorDetail) []string {
	out := make([]string, 0, len(details))
	for _, d := range details {
		if d.ErrorMessage != "" {
			out = append(out, d.ErrorMessage)
		}
	}
	return out
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

var bucharest = loadLocation("Europe/Bucharest")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
