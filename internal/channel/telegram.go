package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"memoryagent/internal/domain"
)

const telegramMaxMsgLen = 4000

// Telegram adapts Bot API webhook updates and replies through the Bot API
// using the source's API key as bot token.
type Telegram struct {
	source    domain.Source
	bots      *BotPool
	parseMode string
	logger    *slog.Logger
}

func newTelegram(src domain.Source, deps Deps) *Telegram {
	return &Telegram{
		source:    src,
		bots:      deps.Bots,
		parseMode: deps.ParseMode,
		logger:    deps.Logger,
	}
}

func (t *Telegram) Family() domain.Family { return domain.FamilyTelegram }

// Parse decodes the payload as an Update. Edited messages are treated like
// new ones; updates without a chat are rejected.
func (t *Telegram) Parse(payload map[string]any) (domain.Inbound, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Inbound{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return domain.Inbound{}, fmt.Errorf("%w: telegram update: %v", domain.ErrInvalidPayload, err)
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return domain.Inbound{}, fmt.Errorf("%w: telegram update has no message", domain.ErrInvalidPayload)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	in := domain.Inbound{
		Content:   text,
		Recipient: strconv.FormatInt(msg.Chat.ID, 10),
	}
	in.CommandType, in.IsCommand = DetectCommand(text)

	t.logger.Info("telegram message parsed",
		"source", t.source.Name,
		"chat_id", msg.Chat.ID,
		"text_len", len(text),
	)
	return in, nil
}

func (t *Telegram) Reply(ctx context.Context, recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}
	if t.source.APIKey == "" {
		return fmt.Errorf("telegram bot token not configured for %s", t.source.Name)
	}

	bot, err := t.bots.Get(t.source.APIKey, botEndpoint(t.source.URL))
	if err != nil {
		t.logger.Error("telegram bot init failed", "source", t.source.Name, "err", err)
		return err
	}

	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.sendChunk(bot, chatID, chunk); err != nil {
			t.logger.Error("telegram reply failed", "source", t.source.Name, "chat_id", chatID, "err", err)
			return err
		}
	}
	t.logger.Info("telegram reply sent", "source", t.source.Name, "chat_id", chatID, "len", len(text))
	return nil
}

// sendChunk tries the configured parse mode first and falls back to plain
// text when Telegram rejects the markup.
func (t *Telegram) sendChunk(bot *tgbotapi.BotAPI, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = t.parseMode

	_, err := bot.Send(msg)
	if err == nil {
		return nil
	}
	if msg.ParseMode == "" || !strings.Contains(err.Error(), "can't parse entities") {
		return err
	}

	t.logger.Warn("telegram markup rejected, retrying as plain text", "err", err, "parseMode", t.parseMode)
	_, err = bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of a chunk. Cuts never fall inside
// a UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				_, cutAt = utf8.DecodeRuneInString(text)
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// botEndpoint turns a source base URL such as https://api.telegram.org/bot
// into the library's "<base><token>/<method>" format.
func botEndpoint(base string) string {
	switch {
	case base == "":
		return tgbotapi.APIEndpoint
	case strings.Contains(base, "%s"):
		return base
	default:
		return base + "%s/%s"
	}
}

// BotPool caches one BotAPI per token and endpoint, so getMe runs once per
// bot instead of once per reply.
type BotPool struct {
	client *http.Client
	mu     sync.Mutex
	bots   map[string]*tgbotapi.BotAPI
}

func NewBotPool(client *http.Client) *BotPool {
	if client == nil {
		client = http.DefaultClient
	}
	return &BotPool{client: client, bots: make(map[string]*tgbotapi.BotAPI)}
}

func (p *BotPool) Get(token, endpoint string) (*tgbotapi.BotAPI, error) {
	key := endpoint + "|" + token

	p.mu.Lock()
	defer p.mu.Unlock()
	if bot, ok := p.bots[key]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, p.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	p.bots[key] = bot
	return bot, nil
}
