package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"memoryagent/internal/domain"
)

// fakeBotAPI serves getMe and sendMessage for any token under /bot.
type fakeBotAPI struct {
	mu           sync.Mutex
	getMeCalls   int
	sent         []map[string]string
	rejectMarkup bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ParseForm()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		f.getMeCalls++
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Memory","username":"memory_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if f.rejectMarkup && r.PostForm.Get("parse_mode") != "" {
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`))
			return
		}
		f.sent = append(f.sent, map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		})
		w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func telegramUpdate(text string) map[string]any {
	return map[string]any{
		"update_id": 100,
		"message": map[string]any{
			"message_id": 5,
			"date":       1700000000,
			"text":       text,
			"chat":       map[string]any{"id": 42, "type": "private"},
		},
	}
}

func TestTelegramParse_Text(t *testing.T) {
	a, _ := Select(domain.Source{Name: "Telegram"}, testDeps())

	in, err := a.Parse(telegramUpdate("Nueva idea para el proyecto"))
	if err != nil {
		t.Fatal(err)
	}
	if in.Content != "Nueva idea para el proyecto" || in.Recipient != "42" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
	if in.IsCommand || in.IsFile {
		t.Fatalf("plain text should not be command or file: %+v", in)
	}
}

func TestTelegramParse_Command(t *testing.T) {
	a, _ := Select(domain.Source{Name: "Telegram"}, testDeps())

	in, err := a.Parse(telegramUpdate("/resumen"))
	if err != nil {
		t.Fatal(err)
	}
	if !in.IsCommand || in.CommandType != domain.CommandSummary {
		t.Fatalf("expected /resumen, got %+v", in)
	}
}

func TestTelegramParse_EditedMessage(t *testing.T) {
	a, _ := Select(domain.Source{Name: "Telegram"}, testDeps())

	in, err := a.Parse(map[string]any{
		"update_id": 1,
		"edited_message": map[string]any{
			"message_id": 5,
			"date":       1,
			"text":       "corregido",
			"chat":       map[string]any{"id": -100123, "type": "group"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if in.Recipient != "-100123" || in.Content != "corregido" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
}

func TestTelegramParse_NoMessage(t *testing.T) {
	a, _ := Select(domain.Source{Name: "Telegram"}, testDeps())

	_, err := a.Parse(map[string]any{"update_id": 1})
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestTelegramReply_Delivers(t *testing.T) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	deps := testDeps()
	deps.Bots = NewBotPool(srv.Client())
	deps.ParseMode = "Markdown"
	src := domain.Source{Name: "Telegram", APIKey: "123:abc", URL: srv.URL + "/bot"}
	a, _ := Select(src, deps)

	if err := a.Reply(context.Background(), "42", "Idea registrada."); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if err := a.Reply(context.Background(), "42", "otra"); err != nil {
		t.Fatalf("second reply: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.getMeCalls != 1 {
		t.Errorf("expected bot to be created once, got %d getMe calls", fake.getMeCalls)
	}
	if len(fake.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fake.sent))
	}
	if fake.sent[0]["chat_id"] != "42" || fake.sent[0]["text"] != "Idea registrada." {
		t.Errorf("unexpected message: %v", fake.sent[0])
	}
	if fake.sent[0]["parse_mode"] != "Markdown" {
		t.Errorf("expected Markdown parse mode, got %q", fake.sent[0]["parse_mode"])
	}
}

func TestTelegramReply_FallsBackToPlainText(t *testing.T) {
	fake := &fakeBotAPI{rejectMarkup: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	deps := testDeps()
	deps.Bots = NewBotPool(srv.Client())
	deps.ParseMode = "Markdown"
	a, _ := Select(domain.Source{Name: "Telegram", APIKey: "123:abc", URL: srv.URL + "/bot"}, deps)

	if err := a.Reply(context.Background(), "42", "**Total de ideas:** 3"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 1 || fake.sent[0]["parse_mode"] != "" {
		t.Fatalf("expected one plain-text message, got %v", fake.sent)
	}
}

func TestTelegramReply_ChunksLongText(t *testing.T) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	deps := testDeps()
	deps.Bots = NewBotPool(srv.Client())
	a, _ := Select(domain.Source{Name: "Telegram", APIKey: "123:abc", URL: srv.URL + "/bot"}, deps)

	line := strings.Repeat("x", 99) + "\n"
	if err := a.Reply(context.Background(), "42", strings.Repeat(line, 100)); err != nil {
		t.Fatalf("reply: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(fake.sent))
	}
}

func TestTelegramReply_Errors(t *testing.T) {
	a, _ := Select(domain.Source{Name: "Telegram", APIKey: "123:abc"}, testDeps())
	if err := a.Reply(context.Background(), "not-a-number", "hi"); err == nil {
		t.Error("expected error for non-numeric chat id")
	}

	b, _ := Select(domain.Source{Name: "Telegram"}, testDeps())
	if err := b.Reply(context.Background(), "42", "hi"); err == nil {
		t.Error("expected error for missing bot token")
	}
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitMessage_Long(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Errorf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks should reassemble to the original text")
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	text := "a" + strings.Repeat("é", 3000) + strings.Repeat("🙂", 500)
	chunks := splitMessage(text, telegramMaxMsgLen)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > telegramMaxMsgLen {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks should reassemble to the original text")
	}
}

func TestBotEndpoint(t *testing.T) {
	tests := map[string]string{
		"":                             "https://api.telegram.org/bot%s/%s",
		"https://api.telegram.org/bot": "https://api.telegram.org/bot%s/%s",
		"http://proxy/bot%s/%s":        "http://proxy/bot%s/%s",
	}
	for in, want := range tests {
		if got := botEndpoint(in); got != want {
			t.Errorf("botEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
