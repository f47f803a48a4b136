package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// epochSecondsMax disambiguates numeric expiry timestamps: values below it
// are epoch seconds, values at or above it are epoch milliseconds.
const epochSecondsMax = 10_000_000_000

// Timestamp accepts the expiry formats the backend is known to emit:
// ISO-8601 strings and epoch numbers in either seconds or milliseconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: parse %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp: parse %s: %w", b, err)
	}
	if n < epochSecondsMax {
		sec := int64(n)
		nsec := int64((n - float64(sec)) * float64(time.Second))
		t.Time = time.Unix(sec, nsec)
		return nil
	}
	t.Time = time.UnixMilli(int64(n))
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// BankInfo holds the manual-transfer details shown next to the QR code.
// All fields are optional; missing bank data never hides the QR and a
// missing QR never hides usable bank data.
type BankInfo struct {
	BankName      string `json:"bankName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
	Branch        string `json:"branch,omitempty"`
}

func (b *BankInfo) Empty() bool {
	return b == nil || (b.BankName == "" && b.AccountNumber == "" && b.AccountName == "" && b.Branch == "")
}

// PaymentIntent is the server-issued record for one payment attempt.
// Exactly one of QRContent/QRImageURL drives rendering, preferring
// QRContent when present and non-empty.
type PaymentIntent struct {
	IntentID   string          `json:"intentId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	Status     string          `json:"status,omitempty"` // pending, paid, expired
	BankInfo   *BankInfo       `json:"bankInfo,omitempty"`
	QRContent  string          `json:"qrContent,omitempty"`
	QRImageURL string          `json:"qrImageUrl,omitempty"`
	Note       string          `json:"note,omitempty"`
	ExpiresAt  Timestamp       `json:"expiresAt"`
}

// Expired reports whether the intent's own expiry has passed. A zero
// ExpiresAt means the server sent none; treat it as not expired and let
// the confirmation deadline bound the attempt instead.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt.Time)
}

// PaymentSettings is the cinema-scoped (or global) bank configuration
// fetched independently of any intent.
type PaymentSettings struct {
	BankName      string `json:"bankName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
	Branch        string `json:"branch,omitempty"`
	QRStaticURL   string `json:"qrStaticUrl,omitempty"`
}

func (s *PaymentSettings) Bank() BankInfo {
	return BankInfo{
		BankName:      s.BankName,
		AccountNumber: s.AccountNumber,
		AccountName:   s.AccountName,
		Branch:        s.Branch,
	}
}

// ConfirmationAttempt is the client-local polling session tied to one
// intent. The deadline is fixed at creation and never extended.
type ConfirmationAttempt struct {
	TicketID  string    `json:"ticket_id"`
	IntentID  string    `json:"intent_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
	IsActive  bool      `json:"is_active"`
}

// Membership is the loyalty snapshot some confirmation responses carry.
// Raw keeps the untouched server payload so nothing is lost on re-save.
type Membership struct {
	Tier   string          `json:"tier,omitempty"`
	Points int             `json:"points,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

func (m *Membership) UnmarshalJSON(b []byte) error {
	type alias Membership
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*m = Membership(a)
	m.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (m Membership) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type alias Membership
	return json.Marshal(alias(m))
}
