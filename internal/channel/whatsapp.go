package channel

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"memoryagent/internal/domain"
)

// WhatsApp adapts Twilio's WhatsApp webhook form fields. It serves every
// source in the WhatsApp family.
type WhatsApp struct {
	source domain.Source
	twilio *TwilioClient
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func newWhatsApp(src domain.Source, deps Deps) *WhatsApp {
	return &WhatsApp{
		source: src,
		twilio: deps.Twilio,
		logger: deps.Logger,
		now:    deps.Now,
		newID:  uuid.NewString,
	}
}

func (w *WhatsApp) Family() domain.Family { return domain.FamilyWhatsApp }

// Parse reads Body, From and the first media attachment. Any attachment
// replaces the text with the file placeholder.
func (w *WhatsApp) Parse(payload map[string]any) (domain.Inbound, error) {
	body := stringField(payload, "Body")
	in := domain.Inbound{
		Content:   body,
		Recipient: stringField(payload, "From"),
	}
	in.CommandType, in.IsCommand = DetectCommand(body)

	numMedia, _ := strconv.Atoi(strings.TrimSpace(stringField(payload, "NumMedia")))
	if numMedia > 0 {
		contentType := stringField(payload, "MediaContentType0")
		in.IsFile = true
		in.Content = domain.FilePlaceholder
		in.File = &domain.FileMeta{
			Type:        fileCategory(contentType),
			Name:        w.fileName(contentType),
			URL:         stringField(payload, "MediaUrl0"),
			ContentType: contentType,
		}
	}

	w.logger.Info("whatsapp message parsed",
		"source", w.source.Name,
		"from", in.Recipient,
		"text_len", len(body),
		"media", numMedia,
	)
	return in, nil
}

func (w *WhatsApp) Reply(ctx context.Context, recipient, text string) error {
	err := w.twilio.SendWhatsApp(ctx, w.source.URL, w.source.Credentials.Twilio, recipient, text)
	if err != nil {
		w.logger.Error("whatsapp reply failed", "source", w.source.Name, "to", recipient, "err", err)
		return err
	}
	w.logger.Info("whatsapp reply sent", "source", w.source.Name, "to", recipient, "len", len(text))
	return nil
}

func fileCategory(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "application/"), strings.HasPrefix(contentType, "text/"):
		return "document"
	default:
		return "file"
	}
}

var mediaExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// fileName builds whatsapp_<YYYYMMDD_HHMMSS>_<8 hex chars><ext>.
func (w *WhatsApp) fileName(contentType string) string {
	ext, ok := mediaExtensions[contentType]
	if !ok {
		ext = ".bin"
	}
	id := w.newID()
	if len(id) > 8 {
		id = id[:8]
	}
	return "whatsapp_" + w.now().Format("20060102_150405") + "_" + id + ext
}
