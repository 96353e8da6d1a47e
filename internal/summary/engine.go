// Package summary answers the chat commands: thematic summaries over a
// period and keyword search over a recipient's notes.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"memoryagent/internal/domain"
)

const (
	maxPerTheme   = 3
	timestampFmt  = "02/01/2006 15:04"
	msgUnknownCmd = "Comando no reconocido."
	msgNoTerm     = "Por favor proporciona un término de búsqueda."
)

type Config struct {
	Notes    domain.NoteStore
	Location *time.Location // "today" boundary and rendered timestamps
	Now      func() time.Time
	Logger   *slog.Logger
}

// Engine renders command responses from stored notes. It keeps no state.
type Engine struct {
	notes  domain.NoteStore
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		notes:  cfg.Notes,
		loc:    cfg.Location,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// Execute runs the command identified by token. content is the full message
// text; /buscar takes its term from it.
func (e *Engine) Execute(ctx context.Context, token, content, recipient string) (string, error) {
	switch token {
	case domain.CommandSummary:
		return e.Summarize(ctx, recipient, domain.PeriodAll)
	case domain.CommandToday:
		return e.Summarize(ctx, recipient, domain.PeriodToday)
	case domain.CommandWeek:
		return e.Summarize(ctx, recipient, domain.PeriodWeek)
	case domain.CommandSearch:
		term := strings.TrimSpace(strings.ReplaceAll(content, domain.CommandSearch, ""))
		return e.Search(ctx, recipient, term)
	default:
		return msgUnknownCmd, nil
	}
}

// Summarize groups the recipient's notes for period by theme. Only the first
// three notes of each theme are listed; the total counts all of them.
func (e *Engine) Summarize(ctx context.Context, recipient string, period domain.Period) (string, error) {
	since := period.Since(e.now().In(e.loc))
	notes, err := e.notes.ListNotes(ctx, recipient, since)
	if err != nil {
		return "", fmt.Errorf("list notes: %w", err)
	}
	if len(notes) == 0 {
		return fmt.Sprintf("No hay ideas registradas para el período: %s", period), nil
	}

	var order []string
	grouped := make(map[string][]string)
	for _, n := range notes {
		t := Classify(n.Content)
		if _, seen := grouped[t]; !seen {
			order = append(order, t)
		}
		grouped[t] = append(grouped[t], preview(n.Content))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📑 **Resumen de Ideas (%s)**\n\n", period)
	for _, t := range order {
		fmt.Fprintf(&sb, "**%s:**\n", t)
		ideas := grouped[t]
		if len(ideas) > maxPerTheme {
			ideas = ideas[:maxPerTheme]
		}
		for _, idea := range ideas {
			fmt.Fprintf(&sb, "- %s\n", idea)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "**Total de ideas:** %d\n", len(notes))
	fmt.Fprintf(&sb, "**Período:** %s", period)

	e.logger.Debug("summary rendered", "recipient", recipient, "period", string(period), "notes", len(notes), "themes", len(order))
	return sb.String(), nil
}

// Search lists up to ten notes containing term, newest first. An empty term
// returns guidance without touching the store.
func (e *Engine) Search(ctx context.Context, recipient, term string) (string, error) {
	if term == "" {
		return msgNoTerm, nil
	}
	notes, err := e.notes.SearchNotes(ctx, recipient, term)
	if err != nil {
		return "", fmt.Errorf("search notes: %w", err)
	}
	if len(notes) > domain.SearchLimit {
		notes = notes[:domain.SearchLimit]
	}
	if len(notes) == 0 {
		return fmt.Sprintf("No se encontraron ideas relacionadas con '%s'.", term), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 **Resultados para '%s':**\n\n", term)
	for _, n := range notes {
		fmt.Fprintf(&sb, "- %s\n", preview(n.Content))
		fmt.Fprintf(&sb, "  *%s*\n\n", n.CreatedAt.In(e.loc).Format(timestampFmt))
	}
	return sb.String(), nil
}
