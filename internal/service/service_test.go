package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/fiscal-compliance-service/internal/anaf"
	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/ratelimit"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

var testStart = time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

const (
	testTenant = "tenant-1"
	testTaxID  = "RO12345674"
)

// fakeAuthority plays the tax authority's OAuth and SPV endpoints.
type fakeAuthority struct {
	mu sync.Mutex

	exchanges     int
	refreshes     int
	refreshFail   bool
	uploads       []*http.Request
	uploadReject  bool
	nextIndex     int
	status        map[string]string
	statusCalls   int
	limitNextPoll bool
	messages      string
}

func (f *fakeAuthority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/oauth/token":
		_ = r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") == "bad-code" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid_grant","error_description":"code expired"}`)
				return
			}
			f.exchanges++
			fmt.Fprintf(w, `{"access_token":"at-%d","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`, f.exchanges)
		case "refresh_token":
			if f.refreshFail {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid_grant","error_description":"refresh token revoked"}`)
				return
			}
			f.refreshes++
			fmt.Fprintf(w, `{"access_token":"at-refreshed-%d","token_type":"Bearer","expires_in":3600}`, f.refreshes)
		}
	case r.URL.Path == "/api/upload":
		f.uploads = append(f.uploads, r)
		if f.uploadReject {
			io.WriteString(w, `{"ExecutionStatus":1,"Errors":[{"errorMessage":"CIF invalid"}]}`)
			return
		}
		f.nextIndex++
		fmt.Fprintf(w, `{"ExecutionStatus":0,"index_incarcare":%d}`, 5000+f.nextIndex)
	case strings.HasPrefix(r.URL.Path, "/api/status/"):
		f.statusCalls++
		if f.limitNextPoll {
			f.limitNextPoll = false
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		body, ok := f.status[strings.TrimPrefix(r.URL.Path, "/api/status/")]
		if !ok {
			body = `{"stare":"in prelucrare"}`
		}
		io.WriteString(w, body)
	case r.URL.Path == "/api/messages":
		if f.messages == "" {
			io.WriteString(w, `{"eroare":"Nu exista mesaje"}`)
			return
		}
		io.WriteString(w, f.messages)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAuthority) setStatus(index, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[index] = body
}

// with mutates the fake under its lock.
func (f *fakeAuthority) with(fn func(f *fakeAuthority)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAuthority) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeAuthority) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeAuthority) statusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type testEnv struct {
	clock      *clock.FakeClock
	store      *store.Memory
	authority  *fakeAuthority
	client     *anaf.Client
	events     *notify.Recorder
	tokens     *TokenManager
	tracker    *Tracker
	inbox      *Inbox
	compliance *Compliance
	scheduler  *Scheduler
	waits      []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fa := &fakeAuthority{status: map[string]string{}}
	srv := httptest.NewServer(fa)
	t.Cleanup(srv.Close)

	env := &testEnv{
		clock:     clock.Fake(testStart),
		store:     store.NewMemory(),
		authority: fa,
		events:    &notify.Recorder{},
	}
	cfg := anaf.DefaultConfig()
	cfg.AuthBaseURL = srv.URL + "/oauth"
	cfg.APIBaseURL = srv.URL + "/api"
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	cfg.RedirectURL = "https://app.example.ro/oauth/callback"
	limiter := ratelimit.New(env.clock, map[string]ratelimit.Limit{ratelimit.ANAF: {Rate: 1000, Burst: 1000}})
	env.client = anaf.NewClient(cfg, limiter, env.clock)

	env.tokens = NewTokenManager(env.store, store.NewMemoryState(env.clock), env.client, env.clock, env.events, cfg.RefreshTokenTTL)
	env.tracker = NewTracker(env.store, env.store, env.tokens, env.client, env.clock, env.events)
	env.inbox = NewInbox(env.store, env.store, env.tokens, env.client, env.clock, env.events, cfg.MessageDays)
	var err error
	env.compliance, err = NewCompliance(env.store, env.store, env.store, env.tokens, env.tracker, env.inbox, env.clock, env.events)
	require.NoError(t, err)
	env.scheduler = NewScheduler(DefaultSchedulerConfig(), env.tokens, env.tracker, env.inbox, env.clock)
	env.scheduler.wait = func(_ context.Context, d time.Duration) error {
		env.waits = append(env.waits, d)
		return nil
	}
	return env
}

// connect runs the authorization flow for tenantID.
func (e *testEnv) connect(t *testing.T, tenantID string) *model.Credential {
	t.Helper()
	ctx := context.Background()
	_, state, err := e.tokens.BeginAuthorization(ctx, tenantID, testTaxID)
	require.NoError(t, err)
	cred, err := e.tokens.CompleteAuthorization(ctx, "good-code", state)
	require.NoError(t, err)
	return cred
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func january(day int) time.Time { return time.Date(2025, 1, day, 10, 0, 0, 0, time.UTC) }

// seedLedger stores a clean January 2025 ledger for tenantID.
func (e *testEnv) seedLedger(tenantID string) {
	inv := func(dir model.InvoiceDirection, number, partner string, day int) model.Invoice {
		return model.Invoice{
			ID:           number,
			Direction:    dir,
			Number:       number,
			IssueDate:    january(day),
			PartnerTaxID: partner,
			PartnerName:  "Partner " + partner,
			Net:          amount("1000.00"),
			VAT:          amount("210.00"),
			Gross:        amount("1210.00"),
			Currency:     "RON",
			DocumentType: model.DocumentInvoice,
		}
	}
	e.store.SetLedger(tenantID, &model.Ledger{
		Company: &model.CompanyProfile{
			TaxID:      testTaxID,
			Name:       "Acme Distributie SRL",
			Address:    "Str. Lunga 1",
			City:       "Brasov",
			PostalCode: "500001",
			County:     "Brasov",
		},
		Sales: []model.Invoice{
			inv(model.DirectionSales, "FCT-001", "RO18547290", 5),
			inv(model.DirectionSales, "FCT-002", "RO18547290", 12),
		},
		Purchases: []model.Invoice{
			inv(model.DirectionPurchase, "ACH-77", "RO14399840", 8),
		},
		Payments: []model.Payment{
			{ID: "p1", InvoiceID: "FCT-001", Reference: "OP-1", Date: january(20), Amount: amount("1210.00"), Currency: "RON", Method: model.PaymentTransfer},
		},
	})
}
