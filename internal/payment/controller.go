// Package payment owns the lifecycle of one payment attempt: intent
// creation, QR presentation, the expiry countdown, and the bounded
// confirmation poll loop.
package payment

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cinema-checkout/internal/gateway"
	"cinema-checkout/internal/qr"
	"cinema-checkout/internal/status"
	"cinema-checkout/internal/store"
	"cinema-checkout/models"
	"cinema-checkout/monitoring"
	"cinema-checkout/utils"
)

// State is the controller's position in the payment flow.
type State int

const (
	StateIdle State = iota
	StateCreatingIntent
	StateAwaitingPayment
	StateConfirming
	StateSucceeded
	StateTimedOut
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreatingIntent:
		return "creating_intent"
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StateConfirming:
		return "confirming"
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed_out"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	msgCreateFailed      = "Could not generate payment QR"
	msgBankNotConfigured = "Bank account not configured. Contact support to finish setup."
	msgConfirmTimeout    = "Confirmation timed out. If you already paid, try again in a moment."
)

const (
	defaultQRSize        = 512
	defaultPollInterval  = 5 * time.Second
	defaultConfirmWindow = 2 * time.Minute
	defaultCountdownTick = time.Second
)

type Config struct {
	// PollInterval is the gap between a confirm request completing and the
	// next one dispatching.
	PollInterval time.Duration

	// ConfirmWindow bounds one confirmation attempt. The deadline is fixed
	// when the attempt starts and never extended.
	ConfirmWindow time.Duration

	CountdownTick time.Duration
	QRSize        int

	// CinemaID scopes the settings lookup; empty means global.
	CinemaID string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.ConfirmWindow <= 0 {
		out.ConfirmWindow = defaultConfirmWindow
	}
	if out.CountdownTick <= 0 {
		out.CountdownTick = defaultCountdownTick
	}
	if out.QRSize <= 0 {
		out.QRSize = defaultQRSize
	}
	return out
}

// attempt is one in-flight confirmation poll session.
type attempt struct {
	record models.ConfirmationAttempt
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller drives one payment screen. All mutable state is guarded by
// mu; timer goroutines re-check the generation counter before touching
// the presenter so callbacks that outlive the screen become no-ops.
type Controller struct {
	gateway   gateway.Gateway
	store     store.LocalStore
	encoder   qr.Encoder
	presenter Presenter
	session   *store.Session
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	gen             int
	state           State
	ticket          *models.Ticket
	method          string
	intent          *models.PaymentIntent
	expired         bool
	attempt         *attempt
	countdownCancel context.CancelFunc

	nudge chan struct{}
}

// NewController wires a payment screen. The session is passed explicitly;
// the controller never reads it from a global.
func NewController(ctx context.Context, gw gateway.Gateway, st store.LocalStore, enc qr.Encoder, p Presenter, sess *store.Session, cfg *Config) *Controller {
	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		gateway:   gw,
		store:     st,
		encoder:   enc,
		presenter: p,
		session:   sess,
		cfg:       cfg.withDefaults(),

		ctx:    cctx,
		cancel: cancel,
		state:  StateIdle,
		nudge:  make(chan struct{}, 1),
	}
}

// State returns the current flow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Intent returns the current intent, nil before one exists.
func (c *Controller) Intent() *models.PaymentIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent == nil {
		return nil
	}
	cp := *c.intent
	return &cp
}

// Attempt returns a copy of the confirmation attempt record, zero when
// none has run.
func (c *Controller) Attempt() models.ConfirmationAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == nil {
		return models.ConfirmationAttempt{}
	}
	return c.attempt.record
}

// current reports whether work started under gen should still apply.
func (c *Controller) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.ctx.Err() == nil
}

// CreateIntent requests a payment intent for the ticket and binds the
// result to the presenter. Also used by the manual regenerate action: a
// fresh intent supersedes the previous one, its countdown, and any
// attempt polling against it.
func (c *Controller) CreateIntent(ctx context.Context, ticket *models.Ticket, method string) error {
	c.mu.Lock()
	if err := c.ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.gen++
	gen := c.gen
	c.stopCountdownLocked()
	c.cancelAttemptLocked()
	c.state = StateCreatingIntent
	c.ticket = ticket
	c.method = method
	c.intent = nil
	c.expired = false
	c.mu.Unlock()

	c.presenter.SetConfirmEnabled(false)

	// Bank details are fetched from settings regardless of how intent
	// creation goes; missing QR must not hide manually usable bank data.
	go c.refreshSettings(ctx, gen)

	note := utils.BuildTransferNote(c.session.NoteBase())
	req := &gateway.CreateIntentRequest{
		TicketID: ticket.ID,
		Method:   method,
		Note:     note,
	}
	if amt := ticket.AmountDue(); amt.IsPositive() {
		req.Amount = &amt
	}

	intent, err := c.gateway.CreateIntent(ctx, req)
	if !c.current(gen) {
		return nil
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()

		msg := msgCreateFailed
		if detail := status.Detail(err); detail != "" {
			msg += ": " + detail
		}
		log.Printf("payment: create intent ticket=%s: %v", ticket.ID, err)
		c.presenter.ShowError(msg)
		c.presenter.ShowQRFallback(msg)
		c.presenter.SetConfirmEnabled(false)
		return err
	}
	if intent.Note == "" {
		intent.Note = note
	}

	c.mu.Lock()
	c.intent = intent
	c.state = StateAwaitingPayment
	c.mu.Unlock()

	log.Printf("payment: intent created ticket=%s intent=%s expires=%s",
		ticket.ID, intent.IntentID, intent.ExpiresAt.Format(time.RFC3339))

	c.bindPresentation(gen, intent)
	c.startCountdown(gen, intent.ExpiresAt.Time)
	return nil
}

// bindPresentation maps an intent to display fields. Pure except for the
// QR encoding.
func (c *Controller) bindPresentation(gen int, intent *models.PaymentIntent) {
	if !c.current(gen) {
		return
	}

	c.mu.Lock()
	ticket := c.ticket
	c.mu.Unlock()

	amount := intent.Amount
	if !amount.IsPositive() && ticket != nil {
		amount = ticket.AmountDue()
	}
	c.presenter.ShowAmount(amount)
	if !intent.BankInfo.Empty() {
		c.presenter.ShowBankInfo(*intent.BankInfo)
	}
	c.presenter.ShowNote(intent.Note)

	switch src := qr.Resolve(intent); src.Kind {
	case qr.SourceContent:
		png, err := c.encoder.EncodePNG(src.Value, c.cfg.QRSize)
		if err != nil {
			log.Printf("payment: qr encode: %v", err)
		} else {
			c.presenter.ShowQR(png)
		}
		c.presenter.SetConfirmEnabled(true)

	case qr.SourceImageURL:
		c.presenter.ShowQRImageURL(src.Value)
		c.presenter.SetConfirmEnabled(true)

	default:
		c.presenter.ShowQRFallback(msgBankNotConfigured)
		c.presenter.SetConfirmEnabled(false)
	}
}

// refreshSettings re-reads the bank configuration, cinema-scoped first
// with a global fallback. Deliberate redundancy against stale or missing
// bank data inside the intent payload.
func (c *Controller) refreshSettings(ctx context.Context, gen int) {
	settings, err := c.gateway.GetPaymentSettings(ctx, c.cfg.CinemaID)
	if err == nil && c.cfg.CinemaID != "" && settingsEmpty(settings) {
		settings, err = c.gateway.GetPaymentSettings(ctx, "")
	}
	if err != nil {
		log.Printf("payment: settings refresh: %v", err)
		return
	}
	if !c.current(gen) {
		return
	}

	bank := settings.Bank()
	if !bank.Empty() {
		c.presenter.ShowBankInfo(bank)
	}

	c.mu.Lock()
	intent := c.intent
	c.mu.Unlock()
	if settings.QRStaticURL != "" && qr.Resolve(intent).Kind == qr.SourceNone {
		c.presenter.ShowQRImageURL(settings.QRStaticURL)
	}
}

func settingsEmpty(s *models.PaymentSettings) bool {
	return s == nil || (s.BankName == "" && s.AccountNumber == "" && s.AccountName == "" && s.Branch == "" && s.QRStaticURL == "")
}

// startCountdown begins the 1-second expiry tick for the current intent,
// replacing any previous countdown. Runs independently of the poll loop.
func (c *Controller) startCountdown(gen int, expiresAt time.Time) {
	if expiresAt.IsZero() {
		return
	}
	c.mu.Lock()
	c.stopCountdownLocked()
	cctx, cancel := context.WithCancel(c.ctx)
	c.countdownCancel = cancel
	c.mu.Unlock()

	go c.runCountdown(cctx, gen, expiresAt)
}

func (c *Controller) runCountdown(ctx context.Context, gen int, expiresAt time.Time) {
	ticker := time.NewTicker(c.cfg.CountdownTick)
	defer ticker.Stop()

	for {
		if !c.current(gen) {
			return
		}
		remaining := time.Until(expiresAt)
		if remaining <= 0 {
			c.markExpired(gen)
			return
		}
		c.presenter.ShowCountdown(remaining)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// markExpired handles the countdown reaching zero. Confirmation on this
// intent is disabled for good; a running attempt keeps polling until its
// own deadline since the payment may already be in flight.
func (c *Controller) markExpired(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.expired = true
	if c.state == StateAwaitingPayment {
		c.state = StateExpired
	}
	c.mu.Unlock()

	log.Printf("payment: intent expired")
	c.presenter.ShowExpired()
	c.presenter.SetConfirmEnabled(false)
}

// ConfirmPayment starts the bounded confirmation poll loop: one request
// immediately, then one per PollInterval measured from the previous
// completion, until success, the deadline, or cancellation. No-op while
// an attempt is already active.
func (c *Controller) ConfirmPayment() error {
	c.mu.Lock()
	if err := c.ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.attempt != nil && c.attempt.record.IsActive {
		c.mu.Unlock()
		return status.ErrAttemptActive
	}
	if c.expired {
		c.mu.Unlock()
		return status.ErrIntentExpired
	}

	gen := c.gen
	var ticketID, intentID string
	if c.ticket != nil {
		ticketID = c.ticket.ID
	}
	if c.intent != nil {
		intentID = c.intent.IntentID
	}
	now := time.Now()
	att := &attempt{
		record: models.ConfirmationAttempt{
			TicketID:  ticketID,
			IntentID:  intentID,
			StartedAt: now,
			Deadline:  now.Add(c.cfg.ConfirmWindow),
			IsActive:  true,
		},
		done: make(chan struct{}),
	}
	actx, acancel := context.WithCancel(c.ctx)
	att.cancel = acancel
	c.attempt = att
	c.state = StateConfirming
	c.mu.Unlock()

	c.presenter.SetConfirmEnabled(false)
	log.Printf("payment: confirming ticket=%s intent=%s deadline=%s",
		ticketID, intentID, att.record.Deadline.Format(time.RFC3339))

	go c.runConfirmLoop(actx, gen, att)
	return nil
}

// Nudge asks an active poll loop to fire its next request immediately,
// typically on a push notification for the intent. Harmless when idle.
func (c *Controller) Nudge() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

func (c *Controller) runConfirmLoop(ctx context.Context, gen int, att *attempt) {
	defer close(att.done)

	req := &gateway.ConfirmRequest{
		IntentID: att.record.IntentID,
		TicketID: att.record.TicketID,
	}

	for {
		result, err := c.gateway.ConfirmPayment(ctx, req)
		if err == nil {
			c.finishSuccess(gen, att, result)
			return
		}
		if ctx.Err() != nil {
			c.endCancelled(att)
			return
		}
		// Transient errors and not-yet-confirmed both keep the loop alive.
		// Only the deadline or success stops it.
		if !errors.Is(err, status.ErrConfirmPending) {
			log.Printf("payment: confirm poll: %v", err)
		}

		select {
		case <-ctx.Done():
			c.endCancelled(att)
			return
		case <-c.nudge:
		case <-time.After(c.cfg.PollInterval):
		}

		if time.Now().After(att.record.Deadline) {
			c.finishTimeout(gen, att)
			return
		}
	}
}

func (c *Controller) finishSuccess(gen int, att *attempt, result *gateway.ConfirmResult) {
	c.mu.Lock()
	if c.gen != gen || c.attempt != att || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	att.record.IsActive = false
	c.attempt = nil
	c.state = StateSucceeded
	c.stopCountdownLocked()
	ticket := c.ticket
	c.mu.Unlock()

	amount := decimal.Zero
	if result != nil {
		amount = result.Amount
	}
	if !amount.IsPositive() && ticket != nil {
		amount = ticket.AmountDue()
	}

	if result != nil && len(result.Membership) > 0 {
		if err := store.SaveMembershipSnapshot(c.ctx, c.store, result.Membership); err != nil {
			log.Printf("payment: save membership snapshot: %v", err)
		}
	}

	monitoring.TrackAttemptOutcome("succeeded")
	log.Printf("payment: confirmed ticket=%s amount=%s", att.record.TicketID, amount)
	c.presenter.ShowReceipt(att.record.TicketID, amount)
}

// finishTimeout ends the attempt at its deadline. The payment may still
// have gone through server-side, so the message invites a later retry
// instead of declaring failure.
func (c *Controller) finishTimeout(gen int, att *attempt) {
	c.mu.Lock()
	if c.gen != gen || c.attempt != att || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	att.record.IsActive = false
	c.attempt = nil
	expired := c.expired
	if expired {
		c.state = StateExpired
	} else {
		c.state = StateTimedOut
	}
	c.mu.Unlock()

	monitoring.TrackAttemptOutcome("timed_out")
	log.Printf("payment: confirmation timed out ticket=%s", att.record.TicketID)
	c.presenter.ShowError(msgConfirmTimeout)
	if !expired {
		c.presenter.SetConfirmEnabled(true)
	}
}

func (c *Controller) endCancelled(att *attempt) {
	c.mu.Lock()
	att.record.IsActive = false
	if c.attempt == att {
		c.attempt = nil
	}
	c.mu.Unlock()
	monitoring.TrackAttemptOutcome("cancelled")
}

func (c *Controller) stopCountdownLocked() {
	if c.countdownCancel != nil {
		c.countdownCancel()
		c.countdownCancel = nil
	}
}

func (c *Controller) cancelAttemptLocked() {
	if c.attempt != nil {
		c.attempt.cancel()
		c.attempt = nil
	}
}

// Close tears the screen down: both timers stop and any in-flight
// callback becomes a no-op. The abandoned attempt is not resumed later;
// the server payment may still complete on its own.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	c.stopCountdownLocked()
	if c.attempt != nil {
		c.attempt.cancel()
	}
	c.mu.Unlock()
	c.cancel()
}
