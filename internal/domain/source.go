package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Family identifies the adapter implementation a source is served by.
// Several source names may map to the same family ("Twilio" and "WhatsApp").
type Family string

const (
	FamilyWhatsApp Family = "whatsapp"
	FamilyTelegram Family = "telegram"
)

// TwilioSandboxNumber is the sender used when a Twilio source has no FromNumber.
const TwilioSandboxNumber = "whatsapp:+14155238886"

// Source is a messaging provider registered for inbound webhook traffic.
type Source struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	APIKey      string      `json:"api_key,omitempty"`
	URL         string      `json:"url,omitempty"`
	Credentials Credentials `json:"credentials"`
	Active      bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Credentials holds the per-family secrets of a source. Only the block
// matching the source's family is meaningful.
type Credentials struct {
	Twilio   *TwilioCredentials   `json:"twilio,omitempty" yaml:"twilio,omitempty"`
	Telegram *TelegramCredentials `json:"telegram,omitempty" yaml:"telegram,omitempty"`
}

// TwilioCredentials authenticate both the Messages API and media downloads.
type TwilioCredentials struct {
	AccountSID string `json:"account_sid" yaml:"accountSid"`
	AuthToken  string `json:"auth_token" yaml:"authToken"`
	FromNumber string `json:"from_number,omitempty" yaml:"fromNumber,omitempty"`
}

// Complete reports whether both halves of the SID/token pair are set.
func (c *TwilioCredentials) Complete() bool {
	return c != nil && c.AccountSID != "" && c.AuthToken != ""
}

// TelegramCredentials carries the webhook registration settings. The bot
// token itself lives in Source.APIKey.
type TelegramCredentials struct {
	WebhookURL     string   `json:"webhook_url,omitempty" yaml:"webhookUrl,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty" yaml:"allowedUpdates,omitempty"`
}

// MarshalColumn encodes the credentials for a single text column.
func (c Credentials) MarshalColumn() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return string(data), nil
}

// UnmarshalColumn decodes a column written by MarshalColumn. Empty input
// yields zero credentials.
func (c *Credentials) UnmarshalColumn(s string) error {
	*c = Credentials{}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), c); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	return nil
}

// SourceStore is the Source Registry persistence contract.
type SourceStore interface {
	// FindActiveSource looks a source up by case-insensitive name. Inactive
	// or missing sources return (nil, nil).
	FindActiveSource(ctx context.Context, name string) (*Source, error)
	// CreateSource inserts the source unless one with the same name exists;
	// created reports which happened.
	CreateSource(ctx context.Context, src Source) (created bool, err error)
	ListSources(ctx context.Context) ([]Source, error)
	SetSourceActive(ctx context.Context, name string, active bool) error
	// UpdateSource replaces every mutable field of the named source.
	UpdateSource(ctx context.Context, src Source) error
}
