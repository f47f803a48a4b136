package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinema-checkout/internal/gateway"
	"cinema-checkout/internal/qr"
	"cinema-checkout/internal/status"
	"cinema-checkout/internal/store"
	"cinema-checkout/models"
)

// fakeGateway lets each test script the backend's behavior per call.
type fakeGateway struct {
	mu sync.Mutex

	createFn   func(req *gateway.CreateIntentRequest) (*models.PaymentIntent, error)
	confirmFn  func(call int) (*gateway.ConfirmResult, error)
	settingsFn func(cinemaID string) (*models.PaymentSettings, error)

	confirmCalls  int
	confirmTimes  []time.Time
	settingsCalls []string
}

func (g *fakeGateway) CreateIntent(_ context.Context, req *gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
	g.mu.Lock()
	fn := g.createFn
	g.mu.Unlock()
	if fn == nil {
		return &models.PaymentIntent{IntentID: "int-1", QRContent: "PAY|int-1"}, nil
	}
	return fn(req)
}

func (g *fakeGateway) ConfirmPayment(_ context.Context, _ *gateway.ConfirmRequest) (*gateway.ConfirmResult, error) {
	g.mu.Lock()
	g.confirmCalls++
	call := g.confirmCalls
	g.confirmTimes = append(g.confirmTimes, time.Now())
	fn := g.confirmFn
	g.mu.Unlock()
	if fn == nil {
		return nil, status.ErrConfirmPending
	}
	return fn(call)
}

func (g *fakeGateway) GetPaymentSettings(_ context.Context, cinemaID string) (*models.PaymentSettings, error) {
	g.mu.Lock()
	g.settingsCalls = append(g.settingsCalls, cinemaID)
	fn := g.settingsFn
	g.mu.Unlock()
	if fn == nil {
		return &models.PaymentSettings{}, nil
	}
	return fn(cinemaID)
}

func (g *fakeGateway) confirmed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmCalls
}

func (g *fakeGateway) settingsSeen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.settingsCalls...)
}

// recordingPresenter captures every presenter call for assertions.
type recordingPresenter struct {
	mu sync.Mutex

	amounts    []decimal.Decimal
	banks      []models.BankInfo
	notes      []string
	pngs       int
	imageURLs  []string
	fallbacks  []string
	countdowns int
	expired    bool
	enabled    []bool
	errors     []string
	receipts   []string
}

func (p *recordingPresenter) ShowAmount(a decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amounts = append(p.amounts, a)
}

func (p *recordingPresenter) ShowBankInfo(b models.BankInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banks = append(p.banks, b)
}

func (p *recordingPresenter) ShowNote(n string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, n)
}

func (p *recordingPresenter) ShowQR(_ []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pngs++
}

func (p *recordingPresenter) ShowQRImageURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageURLs = append(p.imageURLs, u)
}

func (p *recordingPresenter) ShowQRFallback(m string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallbacks = append(p.fallbacks, m)
}

func (p *recordingPresenter) ShowCountdown(_ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.countdowns++
}

func (p *recordingPresenter) ShowExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = true
}

func (p *recordingPresenter) SetConfirmEnabled(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = append(p.enabled, v)
}

func (p *recordingPresenter) ShowError(m string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, m)
}

func (p *recordingPresenter) ShowReceipt(ticketID string, _ decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append(p.receipts, ticketID)
}

func (p *recordingPresenter) confirmEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.enabled) == 0 {
		return false
	}
	return p.enabled[len(p.enabled)-1]
}

func (p *recordingPresenter) receiptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.receipts)
}

func (p *recordingPresenter) sawExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expired
}

func (p *recordingPresenter) lastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errors) == 0 {
		return ""
	}
	return p.errors[len(p.errors)-1]
}

// countingStore tracks writes per key on top of the in-memory store.
type countingStore struct {
	store.LocalStore

	mu   sync.Mutex
	sets map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{LocalStore: store.NewMemoryStore(), sets: make(map[string]int)}
}

func (s *countingStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.sets[key]++
	s.mu.Unlock()
	return s.LocalStore.Set(ctx, key, value)
}

func (s *countingStore) setCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[key]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func testConfig() *Config {
	return &Config{
		PollInterval:  20 * time.Millisecond,
		ConfirmWindow: 200 * time.Millisecond,
		CountdownTick: 10 * time.Millisecond,
		QRSize:        64,
	}
}

func newTestController(t *testing.T, gw *fakeGateway, cfg *Config) (*Controller, *recordingPresenter, *countingStore) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	pres := &recordingPresenter{}
	st := newCountingStore()
	sess := &store.Session{UserID: "u1", UserName: "somchai"}
	ctrl := NewController(context.Background(), gw, st, qr.NewEncoder(), pres, sess, cfg)
	t.Cleanup(ctrl.Close)
	return ctrl, pres, st
}

func testTicket() *models.Ticket {
	return &models.Ticket{ID: "t1", FinalPrice: decimal.NewFromInt(150000)}
}

func TestCreateIntent_BindsPresentation(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(req *gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
			assert.Equal(t, "t1", req.TicketID)
			require.NotNil(t, req.Amount)
			assert.True(t, req.Amount.Equal(decimal.NewFromInt(150000)))
			assert.Regexp(t, `^act-somchaick`, req.Note)
			return &models.PaymentIntent{
				IntentID:  "int-1",
				QRContent: "PAY|t1|int-1",
				BankInfo:  &models.BankInfo{BankName: "BCEL", AccountNumber: "010"},
				ExpiresAt: models.NewTimestamp(time.Now().Add(time.Hour)),
			}, nil
		},
	}
	ctrl, pres, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))

	assert.Equal(t, StateAwaitingPayment, ctrl.State())
	pres.mu.Lock()
	defer pres.mu.Unlock()
	// Intent carried no amount, so the ticket fallback is displayed.
	require.NotEmpty(t, pres.amounts)
	assert.True(t, pres.amounts[0].Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, []models.BankInfo{{BankName: "BCEL", AccountNumber: "010"}}, pres.banks)
	assert.Equal(t, 1, pres.pngs)
	require.NotEmpty(t, pres.enabled)
	assert.True(t, pres.enabled[len(pres.enabled)-1])
}

func TestCreateIntent_ImageURLWhenNoContent(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(*gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
			return &models.PaymentIntent{IntentID: "int-1", QRImageURL: "https://cdn/qr.png"}, nil
		},
	}
	ctrl, pres, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))

	pres.mu.Lock()
	defer pres.mu.Unlock()
	assert.Equal(t, []string{"https://cdn/qr.png"}, pres.imageURLs)
	assert.Zero(t, pres.pngs)
	assert.True(t, pres.enabled[len(pres.enabled)-1])
}

func TestCreateIntent_NoQRSourceDisablesConfirm(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(*gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
			return &models.PaymentIntent{IntentID: "int-1"}, nil
		},
	}
	ctrl, pres, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))

	pres.mu.Lock()
	defer pres.mu.Unlock()
	require.NotEmpty(t, pres.fallbacks)
	assert.Equal(t, msgBankNotConfigured, pres.fallbacks[0])
	assert.False(t, pres.enabled[len(pres.enabled)-1])
}

func TestCreateIntent_FailureSurfacesServerDetail(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(*gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
			return nil, &status.APIError{StatusCode: 404, Message: "Ticket not found"}
		},
	}
	ctrl, pres, _ := newTestController(t, gw, nil)

	err := ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer")
	require.Error(t, err)

	assert.Equal(t, StateFailed, ctrl.State())
	assert.Equal(t, msgCreateFailed+": Ticket not found", pres.lastError())
	assert.False(t, pres.confirmEnabled())
}

func TestRefreshSettings_GlobalFallback(t *testing.T) {
	gw := &fakeGateway{
		settingsFn: func(cinemaID string) (*models.PaymentSettings, error) {
			if cinemaID == "cin-1" {
				return &models.PaymentSettings{}, nil
			}
			return &models.PaymentSettings{BankName: "JDB", AccountNumber: "020"}, nil
		},
	}
	cfg := testConfig()
	cfg.CinemaID = "cin-1"
	ctrl, pres, _ := newTestController(t, gw, cfg)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))

	waitFor(t, time.Second, func() bool {
		pres.mu.Lock()
		defer pres.mu.Unlock()
		for _, b := range pres.banks {
			if b.BankName == "JDB" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, []string{"cin-1", ""}, gw.settingsSeen())
}

func TestConfirmPayment_SucceedsAfterPendingPolls(t *testing.T) {
	gw := &fakeGateway{
		confirmFn: func(call int) (*gateway.ConfirmResult, error) {
			if call < 3 {
				return nil, status.ErrConfirmPending
			}
			return &gateway.ConfirmResult{
				Amount:     decimal.NewFromInt(150000),
				Membership: []byte(`{"tier":"silver"}`),
			}, nil
		},
	}
	ctrl, pres, st := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	waitFor(t, time.Second, func() bool { return pres.receiptCount() == 1 })

	assert.Equal(t, StateSucceeded, ctrl.State())
	assert.Equal(t, 3, gw.confirmed())
	assert.Equal(t, 1, st.setCount("membership_snapshot"))
	assert.False(t, ctrl.Attempt().IsActive)
}

func TestConfirmPayment_TransientErrorsKeepPolling(t *testing.T) {
	gw := &fakeGateway{
		confirmFn: func(call int) (*gateway.ConfirmResult, error) {
			switch call {
			case 1:
				return nil, &status.APIError{StatusCode: 500, Message: "boom"}
			case 2:
				return nil, status.ErrConfirmPending
			default:
				return &gateway.ConfirmResult{Amount: decimal.NewFromInt(150000)}, nil
			}
		},
	}
	ctrl, pres, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	waitFor(t, time.Second, func() bool { return pres.receiptCount() == 1 })
	assert.Equal(t, 3, gw.confirmed())
}

func TestConfirmPayment_PollGapMeasuredFromCompletion(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testConfig()
	cfg.PollInterval = 30 * time.Millisecond
	cfg.ConfirmWindow = 200 * time.Millisecond
	ctrl, _, _ := newTestController(t, gw, cfg)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	waitFor(t, time.Second, func() bool { return gw.confirmed() >= 3 })

	gw.mu.Lock()
	times := append([]time.Time(nil), gw.confirmTimes...)
	gw.mu.Unlock()
	for i := 1; i < 3; i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, cfg.PollInterval, "poll %d fired early", i)
	}
}

func TestConfirmPayment_TimesOutAtDeadline(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testConfig()
	cfg.ConfirmWindow = 60 * time.Millisecond
	ctrl, pres, _ := newTestController(t, gw, cfg)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	waitFor(t, time.Second, func() bool { return ctrl.State() == StateTimedOut })

	assert.Equal(t, msgConfirmTimeout, pres.lastError())
	// Not expired, so the user may retry.
	assert.True(t, pres.confirmEnabled())
}

func TestConfirmPayment_SecondCallWhileActive(t *testing.T) {
	gw := &fakeGateway{}
	ctrl, _, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	err := ctrl.ConfirmPayment()
	assert.ErrorIs(t, err, status.ErrAttemptActive)
}

func TestExpiry_DisablesConfirmButNotActiveAttempt(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(*gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
			return &models.PaymentIntent{
				IntentID:  "int-1",
				QRContent: "PAY|int-1",
				ExpiresAt: models.NewTimestamp(time.Now().Add(40 * time.Millisecond)),
			}, nil
		},
		confirmFn: func(call int) (*gateway.ConfirmResult, error) {
			if call < 4 {
				return nil, status.ErrConfirmPending
			}
			return &gateway.ConfirmResult{Amount: decimal.NewFromInt(150000)}, nil
		},
	}
	cfg := testConfig()
	cfg.ConfirmWindow = 500 * time.Millisecond
	ctrl, pres, _ := newTestController(t, gw, cfg)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	// The QR expires mid-attempt. The attempt keeps polling to its own
	// deadline since the transfer may already be in flight.
	waitFor(t, time.Second, func() bool { return pres.sawExpired() })
	waitFor(t, time.Second, func() bool { return pres.receiptCount() == 1 })
	assert.Equal(t, StateSucceeded, ctrl.State())
}

func TestExpiry_BlocksNewAttempt(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(*gateway.CreateIntentRequest) (*models.PaymentIntent, error) {
			return &models.PaymentIntent{
				IntentID:  "int-1",
				QRContent: "PAY|int-1",
				ExpiresAt: models.NewTimestamp(time.Now().Add(30 * time.Millisecond)),
			}, nil
		},
	}
	ctrl, pres, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))

	waitFor(t, time.Second, func() bool { return pres.sawExpired() })
	assert.Equal(t, StateExpired, ctrl.State())
	assert.False(t, pres.confirmEnabled())

	err := ctrl.ConfirmPayment()
	assert.ErrorIs(t, err, status.ErrIntentExpired)
}

func TestRegenerate_SupersedesPreviousAttempt(t *testing.T) {
	gw := &fakeGateway{}
	ctrl, _, _ := newTestController(t, gw, nil)
	ctx := context.Background()

	require.NoError(t, ctrl.CreateIntent(ctx, testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	// A fresh intent cancels the running attempt and resets expiry.
	require.NoError(t, ctrl.CreateIntent(ctx, testTicket(), "bank_transfer"))
	assert.Equal(t, StateAwaitingPayment, ctrl.State())
	require.NoError(t, ctrl.ConfirmPayment())
}

func TestNudge_PullsNextPollForward(t *testing.T) {
	gw := &fakeGateway{
		confirmFn: func(call int) (*gateway.ConfirmResult, error) {
			if call == 1 {
				return nil, status.ErrConfirmPending
			}
			return &gateway.ConfirmResult{Amount: decimal.NewFromInt(150000)}, nil
		},
	}
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	cfg.ConfirmWindow = time.Hour
	ctrl, pres, _ := newTestController(t, gw, cfg)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	waitFor(t, time.Second, func() bool { return gw.confirmed() == 1 })
	ctrl.Nudge()

	waitFor(t, time.Second, func() bool { return pres.receiptCount() == 1 })
	assert.Equal(t, 2, gw.confirmed())
}

func TestClose_StopsEverything(t *testing.T) {
	gw := &fakeGateway{}
	ctrl, _, _ := newTestController(t, gw, nil)

	require.NoError(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))
	require.NoError(t, ctrl.ConfirmPayment())

	ctrl.Close()

	assert.Error(t, ctrl.ConfirmPayment())
	assert.Error(t, ctrl.CreateIntent(context.Background(), testTicket(), "bank_transfer"))

	// Give an in-flight poll a moment to observe the cancellation.
	time.Sleep(50 * time.Millisecond)
	polls := gw.confirmed()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, polls, gw.confirmed(), "poll loop survived Close")
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "02:00", FormatCountdown(2*time.Minute))
	assert.Equal(t, "01:59", FormatCountdown(119*time.Second))
	assert.Equal(t, "00:05", FormatCountdown(5*time.Second))
	assert.Equal(t, "00:00", FormatCountdown(0))
	assert.Equal(t, "00:00", FormatCountdown(-3*time.Second))
}
