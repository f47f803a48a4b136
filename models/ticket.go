package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Combo is a concession bundle attached to a ticket.
type Combo struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Ticket is the booking being paid for. Depending on how it was created
// upstream only one of the amount fields may be populated.
type Ticket struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id,omitempty"`
	MovieTitle  string          `json:"movie_title,omitempty"`
	CinemaID    string          `json:"cinema_id,omitempty"`
	ShowtimeID  string          `json:"showtime_id,omitempty"`
	SeatNumbers []string        `json:"seat_numbers,omitempty"`
	Combo       *Combo          `json:"combo,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      string          `json:"status"` // pending, confirmed, cancelled
	CreatedAt   time.Time       `json:"created_at"`
}

// AmountDue picks the amount for the payment request: explicit total,
// then final price, then gross total. First strictly positive value wins.
func (t *Ticket) AmountDue() decimal.Decimal {
	for _, v := range []decimal.Decimal{t.TotalAmount, t.FinalPrice, t.TotalPrice} {
		if v.IsPositive() {
			return v
		}
	}
	return decimal.Zero
}
