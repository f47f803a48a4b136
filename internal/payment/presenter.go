package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cinema-checkout/models"
)

// Presenter is the display surface of one payment screen. The controller
// pushes every visible change through it; implementations bind to
// whatever renders the screen (the root CLI ships a terminal one).
type Presenter interface {
	ShowAmount(amount decimal.Decimal)
	ShowBankInfo(bank models.BankInfo)
	ShowNote(note string)

	// ShowQR receives a locally encoded PNG, ShowQRImageURL a pre-rendered
	// image location. ShowQRFallback replaces the QR area with a message
	// when neither source is usable.
	ShowQR(png []byte)
	ShowQRImageURL(url string)
	ShowQRFallback(message string)

	ShowCountdown(remaining time.Duration)
	ShowExpired()

	SetConfirmEnabled(enabled bool)
	ShowError(message string)

	// ShowReceipt is the success navigation carrying the ticket id and the
	// confirmed amount.
	ShowReceipt(ticketID string, amount decimal.Decimal)
}

// FormatCountdown renders remaining time as mm:ss, clamped at 00:00.
func FormatCountdown(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	total := int(remaining.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
