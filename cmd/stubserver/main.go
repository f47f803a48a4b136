// Command stubserver runs the in-memory payment backend for local
// development of the checkout flow.
package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"cinema-checkout/internal/stub"
	"cinema-checkout/models"
)

func main() {
	addr := os.Getenv("STUB_ADDR")
	if addr == "" {
		addr = ":3000"
	}

	srv := stub.New(stub.Options{
		ConfirmAfter: 2,
		IntentTTL:    2 * time.Minute,
		Settings: models.PaymentSettings{
			BankName:      "BCEL",
			AccountNumber: "010-12-00-001234",
			AccountName:   "CINEMA CO LTD",
		},
		Membership: `{"tier":"silver","points":120}`,
	})

	log.Printf("stub payment backend listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatal(err)
	}
}
