package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memoryagent/internal/domain"
)

// Adapter parses one provider family's webhook payloads and delivers
// replies on that provider's channel.
type Adapter interface {
	Family() domain.Family
	// Parse normalizes the webhook "data" object.
	Parse(payload map[string]any) (domain.Inbound, error)
	// Reply sends text to recipient. Failures are logged and returned; they
	// never panic past the adapter.
	Reply(ctx context.Context, recipient, text string) error
}

// Deps are the process-wide collaborators adapters are built with.
type Deps struct {
	Twilio    *TwilioClient
	Bots      *BotPool
	ParseMode string
	Logger    *slog.Logger
	Now       func() time.Time
}

// FamilyOf maps a source name to its adapter family. Matching ignores case;
// "whatsapp" and "twilio" share one family.
func FamilyOf(name string) (domain.Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "whatsapp", "twilio":
		return domain.FamilyWhatsApp, nil
	case "telegram":
		return domain.FamilyTelegram, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, name)
	}
}

// Select builds the adapter for src, bound to its credentials.
func Select(src domain.Source, deps Deps) (Adapter, error) {
	family, err := FamilyOf(src.Name)
	if err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	switch family {
	case domain.FamilyWhatsApp:
		return newWhatsApp(src, deps), nil
	case domain.FamilyTelegram:
		return newTelegram(src, deps), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, src.Name)
	}
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Twilio == nil {
		d.Twilio = NewTwilioClient(TwilioClientConfig{Logger: d.Logger})
	}
	if d.Bots == nil {
		d.Bots = NewBotPool(&http.Client{Timeout: 30 * time.Second})
	}
	return d
}

// DetectCommand reports the first command token text starts with.
func DetectCommand(text string) (string, bool) {
	for _, token := range domain.CommandTokens {
		if strings.HasPrefix(text, token) {
			return token, true
		}
	}
	return "", false
}

// stringField reads a payload value as text. Form posts carry strings (or
// single-element lists); JSON bodies may carry numbers.
func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
