package domain

import "errors"

// Inbound is the provider-neutral form of a webhook payload.
type Inbound struct {
	Content     string
	Recipient   string
	IsCommand   bool
	CommandType string
	IsFile      bool
	File        *FileMeta
}

// FileMeta is the raw attachment information extracted by an adapter,
// before relocation.
type FileMeta struct {
	Type        string `json:"file_type"`
	Name        string `json:"file_name"`
	URL         string `json:"file_url"`
	ContentType string `json:"file_content_type"`
}

// FilePlaceholder replaces the text of any message carrying an attachment.
const FilePlaceholder = "Archivo cargado"

// Command tokens, in detection priority order.
const (
	CommandSummary = "/resumen"
	CommandToday   = "/hoy"
	CommandWeek    = "/semana"
	CommandSearch  = "/buscar"
)

// CommandTokens lists the recognized command prefixes in match order.
var CommandTokens = []string{CommandSummary, CommandToday, CommandWeek, CommandSearch}

var (
	ErrSourceNotFound      = errors.New("source not found or inactive")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidPayload      = errors.New("invalid payload")
)
