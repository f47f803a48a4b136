package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"cinema-checkout/config"
	"cinema-checkout/internal/gateway"
	"cinema-checkout/internal/notify"
	"cinema-checkout/internal/payment"
	"cinema-checkout/internal/qr"
	"cinema-checkout/internal/status"
	"cinema-checkout/internal/store"
	"cinema-checkout/models"
	"cinema-checkout/monitoring"
)

func main() {
	ticketID := flag.String("ticket", "", "ticket id to pay for")
	amount := flag.String("amount", "", "override amount (decimal, optional)")
	method := flag.String("method", "bank_transfer", "payment method")
	flag.Parse()

	if *ticketID == "" {
		fmt.Fprintln(os.Stderr, "usage: cinema-checkout -ticket <id> [-amount <n>] [-method <m>]")
		os.Exit(2)
	}

	// Load configuration
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	// Local store: Redis when configured so session and membership survive
	// restarts, in-memory otherwise.
	var local store.LocalStore = store.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisClient, err := store.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()
		local = store.NewRedisStore(redisClient)
	}

	sess, err := store.LoadSession(ctx, local)
	if errors.Is(err, status.ErrNoSession) {
		sess = &store.Session{
			UserID:    getenv("USER_ID", "local"),
			UserName:  os.Getenv("USER_NAME"),
			UserEmail: os.Getenv("USER_EMAIL"),
			AuthToken: os.Getenv("AUTH_TOKEN"),
		}
		if err := store.SaveSession(ctx, local, sess); err != nil {
			log.Printf("save session: %v", err)
		}
	} else if err != nil {
		log.Fatal(err)
	}

	if cfg.EnableMetrics {
		monitoring.StartMetricsServer(cfg.MetricsPort)
	}

	gw := gateway.New(&gateway.Config{
		BaseURL:    cfg.APIBaseURL,
		AuthToken:  sess.AuthToken,
		Timeout:    cfg.APITimeout,
		RetryMax:   cfg.IntentRetryMax,
		RetryDelay: cfg.IntentRetryDelay,
	})

	encoder := qr.NewEncoder()
	pres := newTerminalPresenter(encoder)

	ctrl := payment.NewController(ctx, gw, local, encoder, pres, sess, &payment.Config{
		PollInterval:  cfg.PollInterval,
		ConfirmWindow: cfg.ConfirmWindow,
		CountdownTick: cfg.CountdownTick,
		CinemaID:      cfg.CinemaID,
	})
	defer ctrl.Close()

	// Optional push channel: a paid notification for the current intent
	// pulls the next confirmation poll forward.
	if cfg.PubNubSubscribeKey != "" {
		listener, err := notify.New(ctx, &notify.Config{
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
			CipherKey:    cfg.PubNubCipherKey,
			Channel:      cfg.PubNubChannel,
			UserID:       cfg.PubNubUserID,
		})
		if err != nil {
			log.Printf("notify: %v", err)
		} else {
			go func() {
				for n := range listener.Events() {
					intent := ctrl.Intent()
					if !n.Paid() {
						continue
					}
					if n.IntentID == "" || intent == nil || n.IntentID == intent.IntentID {
						ctrl.Nudge()
					}
				}
			}()
		}
	}

	ticket := &models.Ticket{ID: *ticketID, UserID: sess.UserID}
	if *amount != "" {
		amt, err := decimal.NewFromString(*amount)
		if err != nil {
			log.Fatalf("invalid -amount %q: %v", *amount, err)
		}
		ticket.TotalAmount = amt
	}

	if err := ctrl.CreateIntent(ctx, ticket, *method); err != nil {
		log.Fatalf("create intent: %v", err)
	}

	// Render the QR inline when we have raw content to encode.
	if intent := ctrl.Intent(); intent != nil {
		if src := qr.Resolve(intent); src.Kind == qr.SourceContent {
			if art, err := encoder.EncodeTerminal(src.Value); err == nil {
				fmt.Println(art)
			}
		}
	}

	if err := ctrl.ConfirmPayment(); err != nil {
		log.Fatalf("confirm payment: %v", err)
	}

	select {
	case outcome := <-pres.Done():
		fmt.Println()
		log.Printf("payment flow finished: %s", outcome)
	case <-time.After(cfg.ConfirmWindow + 10*time.Second):
		fmt.Println()
		log.Println("payment flow finished: timed out")
	case <-ctx.Done():
		fmt.Println()
		log.Println("interrupted")
	}
}

// terminalPresenter renders the payment screen on stdout. The PNG copy of
// the QR is written next to the binary for wallet apps that scan files.
type terminalPresenter struct {
	enc qr.Encoder

	mu   sync.Mutex
	done chan string
}

func newTerminalPresenter(enc qr.Encoder) *terminalPresenter {
	return &terminalPresenter{enc: enc, done: make(chan string, 1)}
}

// Done delivers the terminal outcome of the flow once.
func (p *terminalPresenter) Done() <-chan string {
	return p.done
}

func (p *terminalPresenter) finish(outcome string) {
	select {
	case p.done <- outcome:
	default:
	}
}

func (p *terminalPresenter) ShowAmount(amount decimal.Decimal) {
	fmt.Printf("Amount due: %s\n", amount)
}

func (p *terminalPresenter) ShowBankInfo(bank models.BankInfo) {
	fmt.Printf("Transfer to: %s %s (%s)\n", bank.BankName, bank.AccountNumber, bank.AccountName)
	if bank.Branch != "" {
		fmt.Printf("Branch: %s\n", bank.Branch)
	}
}

func (p *terminalPresenter) ShowNote(note string) {
	fmt.Printf("Transfer note: %s\n", note)
}

func (p *terminalPresenter) ShowQR(png []byte) {
	if err := os.WriteFile("payment-qr.png", png, 0o644); err != nil {
		log.Printf("write payment-qr.png: %v", err)
		return
	}
	fmt.Println("QR image saved to payment-qr.png")
}

func (p *terminalPresenter) ShowQRImageURL(url string) {
	fmt.Printf("QR image: %s\n", url)
}

func (p *terminalPresenter) ShowQRFallback(message string) {
	fmt.Printf("[no QR] %s\n", message)
}

func (p *terminalPresenter) ShowCountdown(remaining time.Duration) {
	fmt.Printf("\rExpires in %s  ", payment.FormatCountdown(remaining))
}

func (p *terminalPresenter) ShowExpired() {
	fmt.Println("\nPayment QR expired. Regenerate to try again.")
	p.finish("expired")
}

func (p *terminalPresenter) SetConfirmEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// The CLI has no button; state changes are only logged.
	log.Printf("confirm enabled: %v", enabled)
}

func (p *terminalPresenter) ShowError(message string) {
	fmt.Printf("\n%s\n", message)
}

func (p *terminalPresenter) ShowReceipt(ticketID string, amount decimal.Decimal) {
	fmt.Printf("\nPayment confirmed for ticket %s, amount %s\n", ticketID, amount)
	p.finish("succeeded")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
