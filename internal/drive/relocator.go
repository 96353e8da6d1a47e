// Package drive relocates inbound attachments into Google Drive under a
// <Month>/<DD> folder hierarchy.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType     = "application/vnd.google-apps.folder"
	defaultContentType = "application/octet-stream"
	uploadFields       = "id,name,webViewLink,size"
)

// ErrDisabled is reported for attachments when no Drive account is configured.
var ErrDisabled = errors.New("drive: relocation disabled")

// NewService creates a Drive API service using the provided TokenSource.
func NewService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*drive.Service, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return drive.NewService(ctx, opts...)
}

// BasicAuth authenticates the attachment download.
type BasicAuth struct {
	Username string
	Password string
}

// Request describes one attachment to relocate.
type Request struct {
	SourceURL string
	Filename  string
	Timestamp time.Time // selects the month/day folders
	Auth      *BasicAuth
}

// File is the Drive record of a relocated attachment.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"web_view_link"`
	Size        int64  `json:"size"`
	FolderID    string `json:"folder_id"`
}

// Invalidator drops a cached credential so the next request reloads it.
// *TokenCache implements it.
type Invalidator interface {
	Invalidate()
}

type Config struct {
	Service      *drive.Service
	RootFolderID string       // "root" when empty
	Client       *http.Client // attachment downloads
	Tokens       Invalidator  // optional; reset when Drive answers 401
	Logger       *slog.Logger
}

// Relocator downloads attachments and uploads them to Drive. Folder lookups
// are not cached; two concurrent requests for a new day may both create it.
type Relocator struct {
	svc    *drive.Service
	root   string
	client *http.Client
	tokens Invalidator
	logger *slog.Logger
}

func New(cfg Config) *Relocator {
	if cfg.RootFolderID == "" {
		cfg.RootFolderID = "root"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relocator{
		svc:    cfg.Service,
		root:   cfg.RootFolderID,
		client: cfg.Client,
		tokens: cfg.Tokens,
		logger: cfg.Logger,
	}
}

// Relocate downloads req.SourceURL and stores it in Drive. Every failure is
// a *RelocationError.
func (r *Relocator) Relocate(ctx context.Context, req Request) (*File, error) {
	data, contentType, err := r.download(ctx, req)
	if err != nil {
		r.logger.Error("attachment download failed", "url", req.SourceURL, "err", err)
		return nil, stageErr(StageDownload, err)
	}

	folderID, err := r.ensureFolders(ctx, req.Timestamp)
	if err != nil {
		r.logger.Error("drive folder setup failed", "err", err)
		r.resetToken(err)
		return nil, stageErr(StageFolder, err)
	}

	created, err := r.svc.Files.Create(&drive.File{
		Name:    req.Filename,
		Parents: []string{folderID},
	}).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Fields(uploadFields).
		Context(ctx).
		Do()
	if err != nil {
		err = WrapError(err)
		r.logger.Error("drive upload failed", "file", req.Filename, "err", err)
		r.resetToken(err)
		return nil, stageErr(StageUpload, err)
	}

	r.logger.Info("file uploaded to drive", "file", created.Name, "id", created.Id, "bytes", len(data))
	return &File{
		ID:          created.Id,
		Name:        created.Name,
		WebViewLink: created.WebViewLink,
		Size:        created.Size,
		FolderID:    folderID,
	}, nil
}

// resetToken forgets the cached token after a 401 so the next relocation
// picks up a re-authorised token file.
func (r *Relocator) resetToken(err error) {
	if r.tokens == nil || !IsUnauthorized(err) {
		return
	}
	r.logger.Warn("drive rejected the token; dropping cached copy")
	r.tokens.Invalidate()
}

func (r *Relocator) download(ctx context.Context, req Request) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.SourceURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if req.Auth != nil && req.Auth.Username != "" && req.Auth.Password != "" {
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", req.SourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", req.SourceURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return data, contentType, nil
}

// ensureFolders returns the id of <root>/<Month>/<DD> for ts, creating the
// missing levels.
func (r *Relocator) ensureFolders(ctx context.Context, ts time.Time) (string, error) {
	monthID, err := r.folder(ctx, ts.Month().String(), r.root)
	if err != nil {
		return "", err
	}
	return r.folder(ctx, fmt.Sprintf("%02d", ts.Day()), monthID)
}

func (r *Relocator) folder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)

	list, err := r.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, WrapError(err))
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	created, err := r.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, WrapError(err))
	}
	r.logger.Info("drive folder created", "name", name, "id", created.Id, "parent", parentID)
	return created.Id, nil
}

// Info fetches metadata for a stored file.
func (r *Relocator) Info(ctx context.Context, fileID string) (*drive.File, error) {
	f, err := r.svc.Files.Get(fileID).
		Fields("id,name,size,createdTime,modifiedTime,webViewLink,mimeType").
		Context(ctx).
		Do()
	if err != nil {
		return nil, WrapError(err)
	}
	return f, nil
}

// Account returns the email address of the authorised Drive user.
func (r *Relocator) Account(ctx context.Context) (string, error) {
	about, err := r.svc.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
	if err != nil {
		return "", WrapError(err)
	}
	if about.User == nil {
		return "", nil
	}
	return about.User.EmailAddress, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
