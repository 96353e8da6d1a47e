package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryagent/internal/channel"
	"memoryagent/internal/domain"
	"memoryagent/internal/drive"
	"memoryagent/internal/events"
	"memoryagent/internal/store"
	"memoryagent/internal/summary"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// twilioFake records every outbound WhatsApp message.
type twilioFake struct {
	mu     sync.Mutex
	bodies []string
	to     []string
}

func (f *twilioFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ParseForm()
	f.bodies = append(f.bodies, r.PostForm.Get("Body"))
	f.to = append(f.to, r.PostForm.Get("To"))
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"sid":"SM1"}`))
}

func (f *twilioFake) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return ""
	}
	return f.bodies[len(f.bodies)-1]
}

type fakeRelocator struct {
	got  []drive.Request
	file *drive.File
	err  error
}

func (f *fakeRelocator) Relocate(ctx context.Context, req drive.Request) (*drive.File, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.file, nil
}

type harness struct {
	svc    *Service
	store  *store.Store
	twilio *twilioFake
	drive  *fakeRelocator
	bus    *events.Bus
	source *domain.Source
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tw := &twilioFake{}
	srv := httptest.NewServer(tw)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	_, err = st.CreateSource(ctx, domain.Source{
		Name:   "WhatsApp",
		URL:    srv.URL,
		Active: true,
		Credentials: domain.Credentials{
			Twilio: &domain.TwilioCredentials{AccountSID: "AC1", AuthToken: "tok"},
		},
	})
	require.NoError(t, err)
	src, err := st.FindActiveSource(ctx, "whatsapp")
	require.NoError(t, err)

	reloc := &fakeRelocator{file: &drive.File{
		ID:          "drive-1",
		Name:        "photo.jpg",
		WebViewLink: "https://drive.google.com/file/d/drive-1/view",
		Size:        42,
		FolderID:    "folder-1",
	}}
	bus := events.NewBus(quietLogger())

	svc := New(Config{
		Sources:  st,
		Notes:    st,
		Commands: summary.New(summary.Config{Notes: st, Location: time.UTC, Logger: quietLogger()}),
		Drive:    reloc,
		Channels: channel.Deps{
			Twilio: channel.NewTwilioClient(channel.TwilioClientConfig{Client: srv.Client(), Logger: quietLogger()}),
			Logger: quietLogger(),
		},
		Events:   bus,
		Location: time.UTC,
		Logger:   quietLogger(),
	})
	return &harness{svc: svc, store: st, twilio: tw, drive: reloc, bus: bus, source: src}
}

func (h *harness) notes(t *testing.T, recipient string) []domain.Note {
	t.Helper()
	ns, err := h.store.ListNotes(context.Background(), recipient, time.Time{})
	require.NoError(t, err)
	return ns
}

func TestProcessMessage_PlainTextIsStored(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ProcessMessage(context.Background(), "WhatsApp", map[string]any{
		"Body": "Buy milk", "From": "+15550001", "NumMedia": "0",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusMessageStored, res.Status)
	assert.Equal(t, "Idea registrada.", res.Response)
	assert.True(t, res.ReplySent)
	assert.NotEmpty(t, res.MessageID)

	ns := h.notes(t, "+15550001")
	require.Len(t, ns, 1)
	assert.Equal(t, res.MessageID, ns[0].ID)
	assert.Equal(t, "Buy milk", ns[0].Content)
	assert.False(t, ns[0].IsCommand)
	assert.False(t, ns[0].IsFile)
	assert.Equal(t, "Idea registrada.", h.twilio.last())
	assert.Len(t, h.bus.Replay(events.TypeMessageStored, time.Time{}), 1)
}

func TestProcessMessage_TodayCommandSummarizesOnlyToday(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old, err := h.store.CreateNote(ctx, domain.NewNote{Content: "Pagar la luz", SourceID: h.source.ID, Recipient: "+1555"})
	require.NoError(t, err)
	_, err = h.store.DB().ExecContext(ctx, "UPDATE notes SET created_at = ? WHERE id = ?",
		time.Now().UTC().AddDate(0, 0, -10), old.ID)
	require.NoError(t, err)
	_, err = h.store.CreateNote(ctx, domain.NewNote{Content: "Comprar pan", SourceID: h.source.ID, Recipient: "+1555"})
	require.NoError(t, err)

	res, err := h.svc.ProcessMessage(ctx, "whatsapp", map[string]any{"Body": "/hoy", "From": "+1555"})
	require.NoError(t, err)

	assert.Equal(t, StatusCommandProcessed, res.Status)
	assert.Equal(t, domain.CommandToday, res.CommandType)
	assert.Contains(t, res.Response, "**General:**\n- Comprar pan\n")
	assert.NotContains(t, res.Response, "Pagar la luz")
	assert.Contains(t, res.Response, "**Total de ideas:** 1\n")
	assert.Equal(t, res.Response, h.twilio.last())

	assert.Len(t, h.notes(t, "+1555"), 2, "commands are not stored")
}

func TestProcessMessage_FileIsRelocatedThenStored(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ProcessMessage(context.Background(), "WHATSAPP", map[string]any{
		"Body":              "mira esto",
		"From":              "whatsapp:+1555",
		"NumMedia":          "1",
		"MediaContentType0": "image/jpeg",
		"MediaUrl0":         "https://api.twilio.com/media/ME1",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFileUploaded, res.Status)
	require.NotNil(t, res.FileInfo)
	assert.Equal(t, "drive-1", res.FileInfo.ID)
	assert.True(t, res.ReplySent)

	require.Len(t, h.drive.got, 1)
	req := h.drive.got[0]
	assert.Equal(t, "https://api.twilio.com/media/ME1", req.SourceURL)
	assert.Equal(t, &drive.BasicAuth{Username: "AC1", Password: "tok"}, req.Auth)
	assert.Regexp(t, `^whatsapp_\d{8}_\d{6}_[0-9a-f]{8}\.jpg$`, req.Filename)
	assert.Equal(t, "Archivo cargado exitosamente: "+req.Filename, res.Response)

	ns := h.notes(t, "whatsapp:+1555")
	require.Len(t, ns, 1)
	n := ns[0]
	assert.True(t, n.IsFile)
	assert.Equal(t, domain.FilePlaceholder, n.Content)
	require.NotNil(t, n.File)
	assert.Equal(t, "drive-1", n.File.DriveID)
	assert.Equal(t, "https://drive.google.com/file/d/drive-1/view", n.File.DriveLink)
	assert.Equal(t, "image", n.File.Type)
}

func TestProcessMessage_RelocationFailureIsHandled(t *testing.T) {
	h := newHarness(t)
	h.drive.err = &drive.RelocationError{Stage: drive.StageDownload, Err: errors.New("unexpected status 404")}

	res, err := h.svc.ProcessMessage(context.Background(), "WhatsApp", map[string]any{
		"From": "+1555", "NumMedia": "1", "MediaContentType0": "application/pdf", "MediaUrl0": "https://x/ME2",
	})
	require.NoError(t, err, "relocation failures are not request failures")

	assert.Equal(t, StatusFileUploadError, res.Status)
	assert.Equal(t, "download: unexpected status 404", res.Error)
	assert.Equal(t, "Error al cargar archivo: download: unexpected status 404", res.Response)
	assert.Equal(t, res.Response, h.twilio.last())
	assert.Empty(t, h.notes(t, "+1555"), "nothing persisted")
	assert.Len(t, h.bus.Replay(events.TypeFileFailed, time.Time{}), 1)
}

func TestProcessMessage_FileWithoutURL(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ProcessMessage(context.Background(), "WhatsApp", map[string]any{
		"From": "+1555", "NumMedia": "1", "MediaContentType0": "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFileUploadError, res.Status)
	assert.Contains(t, res.Error, "incomplete file information")
	assert.Empty(t, h.drive.got)
}

func TestProcessMessage_DriveDisabled(t *testing.T) {
	h := newHarness(t)
	h.svc.drive = nil

	res, err := h.svc.ProcessMessage(context.Background(), "WhatsApp", map[string]any{
		"From": "+1555", "NumMedia": "1", "MediaContentType0": "image/png", "MediaUrl0": "https://x/ME3",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFileUploadError, res.Status)
	assert.Contains(t, res.Error, drive.ErrDisabled.Error())
}

func TestProcessMessage_UnknownSource(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ProcessMessage(context.Background(), "unknown-provider", map[string]any{"Body": "hola", "From": "+1"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)

	n, err := h.store.CountNotes(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessMessage_InactiveSource(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SetSourceActive(context.Background(), "WhatsApp", false))

	_, err := h.svc.ProcessMessage(context.Background(), "WhatsApp", map[string]any{"Body": "hola"})
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestProcessMessage_UnsupportedProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.CreateSource(context.Background(), domain.Source{Name: "Signal", Active: true})
	require.NoError(t, err)

	_, err = h.svc.ProcessMessage(context.Background(), "signal", map[string]any{"Body": "hola"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestProcessMessage_InvalidTelegramPayload(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.CreateSource(context.Background(), domain.Source{Name: "Telegram", Active: true})
	require.NoError(t, err)

	_, err = h.svc.ProcessMessage(context.Background(), "Telegram", map[string]any{"update_id": 1})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestProcessMessage_ReplyFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.CreateSource(context.Background(), domain.Source{Name: "Twilio", Active: true})
	require.NoError(t, err)

	res, err := h.svc.ProcessMessage(context.Background(), "Twilio", map[string]any{"Body": "sin credenciales", "From": "+1"})
	require.NoError(t, err)

	assert.Equal(t, StatusMessageStored, res.Status)
	assert.False(t, res.ReplySent)
	assert.Len(t, h.bus.Replay(events.TypeReplyFailed, time.Time{}), 1)
	assert.Len(t, h.notes(t, "+1"), 1)
}
