package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"memoryagent/internal/domain"
)

const twilioDefaultAPIBase = "https://api.twilio.com/2010-04-01"

// ErrMissingCredentials is returned before any network call when a source
// lacks its account SID or auth token.
var ErrMissingCredentials = errors.New("twilio credentials not configured")

// TwilioClient posts WhatsApp messages through the Twilio Messages API.
type TwilioClient struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type TwilioClientConfig struct {
	APIBase string
	Timeout time.Duration
	Client  *http.Client // overrides Timeout when set
	Logger  *slog.Logger
}

func NewTwilioClient(cfg TwilioClientConfig) *TwilioClient {
	if cfg.APIBase == "" {
		cfg.APIBase = twilioDefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TwilioClient{
		apiBase: twilioBase(cfg.APIBase),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

// SendWhatsApp delivers body to the recipient. apiBase overrides the client
// default when non-empty. Both numbers get the whatsapp: prefix if missing.
func (c *TwilioClient) SendWhatsApp(ctx context.Context, apiBase string, creds *domain.TwilioCredentials, to, body string) error {
	if !creds.Complete() {
		return ErrMissingCredentials
	}
	if apiBase == "" {
		apiBase = c.apiBase
	}

	from := creds.FromNumber
	if from == "" {
		from = domain.TwilioSandboxNumber
	}
	form := url.Values{}
	form.Set("To", whatsappAddress(to))
	form.Set("From", whatsappAddress(from))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioBase(apiBase), url.PathEscape(creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// twilioBase accepts both the API version root and the .../Accounts URL
// stored on older source rows.
func twilioBase(raw string) string {
	base := strings.TrimRight(raw, "/")
	base = strings.TrimSuffix(base, "/Accounts")
	return strings.TrimRight(base, "/")
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
