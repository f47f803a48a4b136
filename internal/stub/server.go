// Package stub is an in-memory stand-in for the cinema backend's payment
// endpoints. It backs local development (cmd/stubserver) and the
// integration tests; it is not a real payment processor.
package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/shopspring/decimal"

	"cinema-checkout/models"
)

// Options tune the stub's behavior per scenario.
type Options struct {
	// RateLimitFirst makes the first N intent creations answer 429.
	RateLimitFirst int

	// ConfirmAfter is how many confirmation polls return not-success
	// before the payment counts as recorded. Negative means never.
	ConfirmAfter int

	// IntentTTL is how far in the future intents expire.
	IntentTTL time.Duration

	// RateLimitPerSec applies a sustained per-client limit on top of
	// RateLimitFirst. Zero disables it.
	RateLimitPerSec float64

	Settings   models.PaymentSettings
	Membership string // raw JSON attached to successful confirmations
}

type stubIntent struct {
	ticketID  string
	amount    decimal.Decimal
	note      string
	expiresAt time.Time
	polls     int
	paid      bool
}

// Server implements the three-endpoint payment contract.
type Server struct {
	opts Options

	mu          sync.Mutex
	rateLimited int
	intents     map[string]*stubIntent
	byTicket    map[string]string // ticket id -> latest intent id
}

func New(opts Options) *Server {
	if opts.IntentTTL <= 0 {
		opts.IntentTTL = 10 * time.Minute
	}
	return &Server{
		opts:     opts,
		intents:  make(map[string]*stubIntent),
		byTicket: make(map[string]string),
	}
}

// Router mounts the contract on a fresh echo instance under /api/v1,
// matching the real backend's base path.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	g := e.Group("/api/v1")
	if s.opts.RateLimitPerSec > 0 {
		g.Use(RateLimit(s.opts.RateLimitPerSec))
	}
	g.POST("/payment-intents", s.CreateIntent)
	g.POST("/payment-confirmations", s.ConfirmPayment)
	g.GET("/payment-settings", s.GetPaymentSettings)
	return e
}

func (s *Server) CreateIntent(c echo.Context) error {
	var req struct {
		TicketID string          `json:"ticketId"`
		Method   string          `json:"method"`
		Note     string          `json:"note"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid request",
		})
	}
	if req.TicketID == "" {
		return c.JSON(http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Ticket not found",
		})
	}

	s.mu.Lock()
	if s.rateLimited < s.opts.RateLimitFirst {
		s.rateLimited++
		s.mu.Unlock()
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"success": false,
			"message": "Rate limit exceeded. Please try again later.",
		})
	}

	intentID := uuid.NewString()
	note := req.Note
	if note == "" {
		note = "act-stub" + intentID[:6]
	}
	expiresAt := time.Now().Add(s.opts.IntentTTL)
	s.intents[intentID] = &stubIntent{
		ticketID:  req.TicketID,
		amount:    req.Amount,
		note:      note,
		expiresAt: expiresAt,
	}
	s.byTicket[req.TicketID] = intentID
	s.mu.Unlock()

	bank := s.opts.Settings.Bank()
	data := models.PaymentIntent{
		IntentID:  intentID,
		Amount:    req.Amount,
		Currency:  "VND",
		Status:    "pending",
		Note:      note,
		ExpiresAt: models.NewTimestamp(expiresAt),
		QRContent: fmt.Sprintf("PAY|%s|%s|%s", req.TicketID, intentID, req.Amount),
	}
	if !bank.Empty() {
		data.BankInfo = &bank
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"data":    data,
		"message": "Payment QR created",
	})
}

func (s *Server) ConfirmPayment(c echo.Context) error {
	var req struct {
		IntentID string `json:"intentId"`
		TicketID string `json:"ticketId"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid request",
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.IntentID
	if id == "" {
		id = s.byTicket[req.TicketID]
	}
	intent, ok := s.intents[id]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Intent not found",
		})
	}
	if time.Now().After(intent.expiresAt) {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "QR expired",
		})
	}

	// Idempotent: success keeps answering success with no new side effects.
	if !intent.paid {
		intent.polls++
		if s.opts.ConfirmAfter < 0 || intent.polls <= s.opts.ConfirmAfter {
			return c.JSON(http.StatusOK, map[string]any{
				"success": false,
				"message": "Payment not recorded yet",
			})
		}
		intent.paid = true
	}

	data := map[string]any{
		"intentId": id,
		"ticketId": intent.ticketID,
		"amount":   intent.amount,
		"status":   "success",
	}
	if s.opts.Membership != "" {
		data["membership"] = json.RawMessage(s.opts.Membership)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
		"message": "Payment confirmed",
	})
}

func (s *Server) GetPaymentSettings(c echo.Context) error {
	// cinemaId only scopes in the real backend; the stub has one config.
	_ = c.QueryParam("cinemaId")
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    s.opts.Settings,
	})
}

// PollCount reports how many confirmation polls an intent has received.
func (s *Server) PollCount(intentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent, ok := s.intents[intentID]; ok {
		return intent.polls
	}
	return 0
}

// IntentCount reports how many intents were created.
func (s *Server) IntentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}
