// Package ingest turns one webhook payload into a stored note, a command
// response or a relocated file, and replies on the originating channel.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memoryagent/internal/channel"
	"memoryagent/internal/domain"
	"memoryagent/internal/drive"
	"memoryagent/internal/events"
)

// Result statuses.
const (
	StatusCommandProcessed = "command_processed"
	StatusFileUploaded     = "file_uploaded"
	StatusFileUploadError  = "file_upload_error"
	StatusMessageStored    = "message_stored"
)

const (
	msgIdeaRecorded = "Idea registrada."
	msgFileUploaded = "Archivo cargado exitosamente: %s"
	msgFileFailed   = "Error al cargar archivo: %s"
)

var errIncompleteFile = errors.New("incomplete file information")

// Result is the structured outcome reported to the webhook caller.
type Result struct {
	Status      string      `json:"status"`
	MessageID   string      `json:"message_id,omitempty"`
	Response    string      `json:"response"`
	CommandType string      `json:"command_type,omitempty"`
	FileInfo    *drive.File `json:"file_info,omitempty"`
	Error       string      `json:"error,omitempty"`
	ReplySent   bool        `json:"reply_sent"`
}

// Commands runs chat commands.
type Commands interface {
	Execute(ctx context.Context, token, content, recipient string) (string, error)
}

// Relocator moves an attachment into durable storage.
type Relocator interface {
	Relocate(ctx context.Context, req drive.Request) (*drive.File, error)
}

type Config struct {
	Sources  domain.SourceStore
	Notes    domain.NoteStore
	Commands Commands
	Drive    Relocator // nil when Drive is not configured
	Channels channel.Deps
	Events   events.Emitter // optional
	Location *time.Location // selects the Drive day folder
	Now      func() time.Time
	Logger   *slog.Logger
}

type Service struct {
	sources  domain.SourceStore
	notes    domain.NoteStore
	commands Commands
	drive    Relocator
	channels channel.Deps
	events   events.Emitter
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Channels.Logger == nil {
		cfg.Channels.Logger = cfg.Logger
	}
	return &Service{
		sources:  cfg.Sources,
		notes:    cfg.Notes,
		commands: cfg.Commands,
		drive:    cfg.Drive,
		channels: cfg.Channels,
		events:   cfg.Events,
		loc:      cfg.Location,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
}

// ProcessMessage handles the "data" object of one webhook call for the
// named source. The returned error is one of domain.ErrSourceNotFound,
// domain.ErrUnsupportedProvider, domain.ErrInvalidPayload (all wrapped) or
// an unexpected failure. File relocation problems are not errors; they are
// reported through Result.Status.
func (s *Service) ProcessMessage(ctx context.Context, sourceName string, payload map[string]any) (*Result, error) {
	src, err := s.sources.FindActiveSource(ctx, sourceName)
	if err != nil {
		return nil, fmt.Errorf("resolve source %q: %w", sourceName, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceName)
	}

	adapter, err := channel.Select(*src, s.channels)
	if err != nil {
		return nil, err
	}

	in, err := adapter.Parse(payload)
	if err != nil {
		return nil, err
	}

	log := s.logger.With("source", src.Name, "recipient", in.Recipient)

	switch {
	case in.IsCommand:
		return s.handleCommand(ctx, log, src, adapter, in)
	case in.IsFile:
		return s.handleFile(ctx, log, src, adapter, in), nil
	default:
		return s.handlePlain(ctx, log, src, adapter, in)
	}
}

func (s *Service) handleCommand(ctx context.Context, log *slog.Logger, src *domain.Source, adapter channel.Adapter, in domain.Inbound) (*Result, error) {
	response, err := s.commands.Execute(ctx, in.CommandType, in.Content, in.Recipient)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", in.CommandType, err)
	}
	log.Info("command processed", "command", in.CommandType)

	res := &Result{
		Status:      StatusCommandProcessed,
		Response:    response,
		CommandType: in.CommandType,
	}
	res.ReplySent = s.reply(ctx, log, src, adapter, in.Recipient, response)
	s.emit(events.TypeCommandProcessed, src, map[string]any{
		"recipient": in.Recipient,
		"command":   in.CommandType,
	})
	return res, nil
}

func (s *Service) handlePlain(ctx context.Context, log *slog.Logger, src *domain.Source, adapter channel.Adapter, in domain.Inbound) (*Result, error) {
	note, err := s.notes.CreateNote(ctx, domain.NewNote{
		Content:   in.Content,
		SourceID:  src.ID,
		Recipient: in.Recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("store note: %w", err)
	}
	log.Info("note stored", "id", note.ID)

	res := &Result{
		Status:    StatusMessageStored,
		MessageID: note.ID,
		Response:  msgIdeaRecorded,
	}
	res.ReplySent = s.reply(ctx, log, src, adapter, in.Recipient, msgIdeaRecorded)
	s.emit(events.TypeMessageStored, src, map[string]any{
		"recipient":  in.Recipient,
		"message_id": note.ID,
	})
	return res, nil
}

// handleFile never fails the request. Relocation and persistence errors are
// turned into a failure reply on the same channel.
func (s *Service) handleFile(ctx context.Context, log *slog.Logger, src *domain.Source, adapter channel.Adapter, in domain.Inbound) *Result {
	file, note, err := s.storeFile(ctx, src, in)
	if err != nil {
		var relErr *drive.RelocationError
		if errors.As(err, &relErr) {
			log.Warn("file relocation failed", "stage", relErr.Stage, "err", relErr.Err)
		} else {
			log.Error("file note not stored", "err", err)
		}

		response := fmt.Sprintf(msgFileFailed, err)
		res := &Result{
			Status:   StatusFileUploadError,
			Response: response,
			Error:    err.Error(),
		}
		res.ReplySent = s.reply(ctx, log, src, adapter, in.Recipient, response)
		s.emit(events.TypeFileFailed, src, map[string]any{
			"recipient": in.Recipient,
			"error":     err.Error(),
		})
		return res
	}

	log.Info("file stored", "id", note.ID, "drive_id", file.ID)
	response := fmt.Sprintf(msgFileUploaded, in.File.Name)
	res := &Result{
		Status:    StatusFileUploaded,
		MessageID: note.ID,
		Response:  response,
		FileInfo:  file,
	}
	res.ReplySent = s.reply(ctx, log, src, adapter, in.Recipient, response)
	s.emit(events.TypeFileUploaded, src, map[string]any{
		"recipient":  in.Recipient,
		"message_id": note.ID,
		"drive_id":   file.ID,
		"file_name":  file.Name,
	})
	return res
}

// storeFile relocates the attachment and persists the note only once the
// Drive identifiers are known.
func (s *Service) storeFile(ctx context.Context, src *domain.Source, in domain.Inbound) (*drive.File, *domain.Note, error) {
	meta := in.File
	if meta == nil || meta.URL == "" || meta.Name == "" {
		return nil, nil, &drive.RelocationError{Stage: drive.StageDownload, Err: errIncompleteFile}
	}
	if s.drive == nil {
		return nil, nil, &drive.RelocationError{Stage: drive.StageUpload, Err: drive.ErrDisabled}
	}

	req := drive.Request{
		SourceURL: meta.URL,
		Filename:  meta.Name,
		Timestamp: s.now().In(s.loc),
	}
	if tw := src.Credentials.Twilio; tw.Complete() {
		req.Auth = &drive.BasicAuth{Username: tw.AccountSID, Password: tw.AuthToken}
	}

	file, err := s.drive.Relocate(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	note, err := s.notes.CreateNote(ctx, domain.NewNote{
		Content:   in.Content,
		SourceID:  src.ID,
		Recipient: in.Recipient,
		File: &domain.FileDescriptor{
			Type:      meta.Type,
			Name:      meta.Name,
			URL:       meta.URL,
			DriveID:   file.ID,
			DriveLink: file.WebViewLink,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store file note: %w", err)
	}
	return file, note, nil
}

// reply sends text and reports whether it was delivered. Failures never
// propagate.
func (s *Service) reply(ctx context.Context, log *slog.Logger, src *domain.Source, adapter channel.Adapter, recipient, text string) bool {
	if err := adapter.Reply(ctx, recipient, text); err != nil {
		log.Warn("reply not delivered", "err", err)
		s.emit(events.TypeReplyFailed, src, map[string]any{
			"recipient": recipient,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

func (s *Service) emit(eventType string, src *domain.Source, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(events.Event{
		Type:      eventType,
		Source:    src.Name,
		Payload:   payload,
		Timestamp: s.now(),
	})
}
