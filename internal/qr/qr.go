// Package qr renders payment QR codes and decides which source on an
// intent drives the rendering.
package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"cinema-checkout/models"
)

// SourceKind tells the presentation layer how to render the QR area.
type SourceKind int

const (
	// SourceNone means neither qrContent nor qrImageUrl is usable; the
	// screen shows the bank-not-configured fallback instead.
	SourceNone SourceKind = iota
	// SourceContent means Value is raw text to encode locally.
	SourceContent
	// SourceImageURL means Value is a pre-rendered image to load.
	SourceImageURL
)

// Source is the resolved QR rendering source of one intent.
type Source struct {
	Kind  SourceKind
	Value string
}

// Resolve applies the precedence rule: qrContent wins when present and
// non-empty, then qrImageUrl, else none.
func Resolve(intent *models.PaymentIntent) Source {
	if intent == nil {
		return Source{Kind: SourceNone}
	}
	if intent.QRContent != "" {
		return Source{Kind: SourceContent, Value: intent.QRContent}
	}
	if intent.QRImageURL != "" {
		return Source{Kind: SourceImageURL, Value: intent.QRImageURL}
	}
	return Source{Kind: SourceNone}
}

// Encoder turns QR text into something displayable.
type Encoder interface {
	EncodePNG(content string, size int) ([]byte, error)
	EncodeTerminal(content string) (string, error)
}

type encoder struct {
	level qrcode.RecoveryLevel
}

// NewEncoder returns the default encoder with medium error correction.
func NewEncoder() Encoder {
	return &encoder{level: qrcode.Medium}
}

func (e *encoder) EncodePNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("encodePNG: empty content")
	}
	png, err := qrcode.Encode(content, e.level, size)
	if err != nil {
		return nil, fmt.Errorf("encodePNG: %w", err)
	}
	return png, nil
}

func (e *encoder) EncodeTerminal(content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("encodeTerminal: empty content")
	}
	code, err := qrcode.New(content, e.level)
	if err != nil {
		return "", fmt.Errorf("encodeTerminal: %w", err)
	}
	return code.ToSmallString(false), nil
}
