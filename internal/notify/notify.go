// Package notify listens for server-pushed payment notifications and
// lets the app trigger an immediate confirmation poll instead of waiting
// for the next scheduled one. Polling bounds are unchanged; this only
// shortens the happy path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	pubnub "github.com/pubnub/go/v7"
)

type Config struct {
	SubscribeKey string `json:"subscribe_key" mapstructure:"subscribe_key"`
	SecretKey    string `json:"secret_key" mapstructure:"secret_key"`
	CipherKey    string `json:"cipher_key" mapstructure:"cipher_key"`
	Channel      string `json:"channel" mapstructure:"channel"`
	UserID       string `json:"user_id" mapstructure:"user_id"`
}

// Notification is one payment event pushed by the backend.
type Notification struct {
	IntentID string `json:"intentId"`
	TicketID string `json:"ticketId"`
	Status   string `json:"status"`
}

// Paid reports whether the notification marks the payment recorded.
func (n *Notification) Paid() bool {
	return n.Status == "paid" || n.Status == "success" || n.Status == "completed"
}

// Listener subscribes to one PubNub channel and surfaces decoded payment
// notifications on Events.
type Listener struct {
	pn  *pubnub.PubNub
	lis *pubnub.Listener
	ch  chan Notification
}

func New(ctx context.Context, cfg *Config) (*Listener, error) {
	if cfg.SubscribeKey == "" {
		return nil, fmt.Errorf("notify: subscribe key required")
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pnCfg.CipherKey = cfg.CipherKey

	l := &Listener{
		pn:  pubnub.NewPubNub(pnCfg),
		lis: pubnub.NewListener(),
		ch:  make(chan Notification, 8),
	}

	go l.processSubscription(ctx)

	l.pn.AddListener(l.lis)
	l.pn.Subscribe().Channels([]string{cfg.Channel}).Execute()

	return l, nil
}

// Events is the stream of decoded notifications.
func (l *Listener) Events() <-chan Notification {
	return l.ch
}

func (l *Listener) processSubscription(ctx context.Context) {
	for {
		select {
		case st := <-l.lis.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("notify: connected to pubnub")
			case pubnub.PNReconnectedCategory:
				log.Println("notify: reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				log.Println("notify: disconnected from pubnub")
			default:
				log.Printf("notify: pubnub status %v", st.Category)
			}

		case message := <-l.lis.Message:
			n, err := decode(message.Message)
			if err != nil {
				log.Printf("notify: %v", err)
				continue
			}
			select {
			case l.ch <- *n:
			default:
				// slow consumer; drop rather than block the listener
			}

		case <-ctx.Done():
			log.Println("notify: closing subscription")
			l.pn.UnsubscribeAll()
			return
		}
	}
}

func decode(raw any) (*Notification, error) {
	var n Notification
	switch m := raw.(type) {
	case string:
		dec := json.NewDecoder(strings.NewReader(m))
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
	case map[string]any:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		if err := json.Unmarshal(b, &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
	default:
		return nil, fmt.Errorf("decode notification: unexpected payload %T", raw)
	}
	return &n, nil
}
