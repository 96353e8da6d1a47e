package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryagent/internal/domain"
)

// fakeNotes filters an in-memory slice the way the SQL store does.
type fakeNotes struct {
	notes       []domain.Note
	listCalls   int
	searchCalls int
	lastSince   time.Time
	err         error
}

func (f *fakeNotes) CreateNote(ctx context.Context, n domain.NewNote) (*domain.Note, error) {
	return nil, errors.New("not used")
}

func (f *fakeNotes) ListNotes(ctx context.Context, recipient string, since time.Time) ([]domain.Note, error) {
	f.listCalls++
	f.lastSince = since
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Note
	for i := len(f.notes) - 1; i >= 0; i-- {
		n := f.notes[i]
		if n.Recipient != recipient || n.IsCommand {
			continue
		}
		if !since.IsZero() && n.CreatedAt.Before(since) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeNotes) SearchNotes(ctx context.Context, recipient, term string) ([]domain.Note, error) {
	f.searchCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Note
	for i := len(f.notes) - 1; i >= 0 && len(out) < domain.SearchLimit; i-- {
		n := f.notes[i]
		if n.Recipient == recipient && !n.IsCommand && strings.Contains(strings.ToLower(n.Content), strings.ToLower(term)) {
			out = append(out, n)
		}
	}
	return out, nil
}

var fixedNow = time.Date(2024, 6, 12, 18, 30, 0, 0, time.UTC)

func newEngine(notes *fakeNotes) *Engine {
	return New(Config{
		Notes:    notes,
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	})
}

func note(recipient, content string, at time.Time) domain.Note {
	return domain.Note{Recipient: recipient, Content: content, CreatedAt: at}
}

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"Reunión en la oficina", "Trabajo"},
		{"Cena con la familia", "Personal"},
		{"Tengo una idea", "Ideas"},
		{"Leer un libro", "Educación"},
		{"Ir al médico", "Salud"},
		{"Comprar leche", "General"},
		// Trabajo outranks Personal
		{"Proyecto con amigos", "Trabajo"},
		// Personal outranks Ideas
		{"Idea para la casa", "Personal"},
		// Ideas outranks Educación and Salud
		{"Crear un curso de salud", "Ideas"},
		{"PROYECTO en MAYÚSCULAS", "Trabajo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.content), tt.content)
	}
}

func TestPreview(t *testing.T) {
	short := strings.Repeat("a", 100)
	assert.Equal(t, short, preview(short))

	long := strings.Repeat("é", 150)
	got := preview(long)
	assert.Equal(t, strings.Repeat("é", 100)+"...", got)
}

func TestSummarize_Empty(t *testing.T) {
	e := newEngine(&fakeNotes{})

	got, err := e.Summarize(context.Background(), "r1", domain.PeriodToday)
	require.NoError(t, err)
	assert.Equal(t, "No hay ideas registradas para el período: today", got)
}

func TestSummarize_Format(t *testing.T) {
	notes := &fakeNotes{notes: []domain.Note{
		note("r1", "Comprar leche", fixedNow.Add(-3*time.Hour)),
		note("r1", "Avanzar el proyecto", fixedNow.Add(-2*time.Hour)),
		note("r1", "Llamar a la familia", fixedNow.Add(-1*time.Hour)),
	}}
	e := newEngine(notes)

	got, err := e.Summarize(context.Background(), "r1", domain.PeriodAll)
	require.NoError(t, err)

	want := "📑 **Resumen de Ideas (all)**\n\n" +
		"**Personal:**\n- Llamar a la familia\n\n" +
		"**Trabajo:**\n- Avanzar el proyecto\n\n" +
		"**General:**\n- Comprar leche\n\n" +
		"**Total de ideas:** 3\n" +
		"**Período:** all"
	assert.Equal(t, want, got)
	assert.True(t, notes.lastSince.IsZero(), "all should be unbounded")
}

func TestSummarize_CapsThreePerThemeButCountsAll(t *testing.T) {
	var ns []domain.Note
	for i := 0; i < 5; i++ {
		ns = append(ns, note("r1", fmt.Sprintf("proyecto %d", i), fixedNow.Add(time.Duration(i-10)*time.Minute)))
	}
	e := newEngine(&fakeNotes{notes: ns})

	got, err := e.Summarize(context.Background(), "r1", domain.PeriodAll)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(got, "- proyecto"))
	assert.Contains(t, got, "**Total de ideas:** 5\n")
	assert.Contains(t, got, "- proyecto 4\n- proyecto 3\n- proyecto 2\n")
}

func TestSummarize_TodayExcludesOlderNotes(t *testing.T) {
	notes := &fakeNotes{notes: []domain.Note{
		note("r1", "hace diez días", fixedNow.AddDate(0, 0, -10)),
		note("r1", "hoy temprano", fixedNow.Add(-time.Hour)),
	}}
	e := newEngine(notes)

	got, err := e.Summarize(context.Background(), "r1", domain.PeriodToday)
	require.NoError(t, err)
	assert.Contains(t, got, "**General:**\n- hoy temprano\n")
	assert.NotContains(t, got, "hace diez días")
	assert.Contains(t, got, "**Total de ideas:** 1\n")
	assert.Equal(t, time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), notes.lastSince)
}

func TestSummarize_StoreError(t *testing.T) {
	e := newEngine(&fakeNotes{err: errors.New("db down")})
	_, err := e.Summarize(context.Background(), "r1", domain.PeriodWeek)
	assert.ErrorContains(t, err, "db down")
}

func TestSearch_EmptyTermSkipsStore(t *testing.T) {
	notes := &fakeNotes{}
	e := newEngine(notes)

	got, err := e.Search(context.Background(), "r1", "")
	require.NoError(t, err)
	assert.Equal(t, "Por favor proporciona un término de búsqueda.", got)
	assert.Zero(t, notes.searchCalls)
}

func TestSearch_NoResults(t *testing.T) {
	e := newEngine(&fakeNotes{})
	got, err := e.Search(context.Background(), "r1", "vacaciones")
	require.NoError(t, err)
	assert.Equal(t, "No se encontraron ideas relacionadas con 'vacaciones'.", got)
}

func TestSearch_Format(t *testing.T) {
	long := "Proyecto " + strings.Repeat("x", 120)
	e := newEngine(&fakeNotes{notes: []domain.Note{
		note("r1", long, time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC)),
		note("r1", "Otro proyecto", time.Date(2024, 6, 2, 10, 15, 0, 0, time.UTC)),
	}})

	got, err := e.Search(context.Background(), "r1", "proyecto")
	require.NoError(t, err)

	want := "🔍 **Resultados para 'proyecto':**\n\n" +
		"- Otro proyecto\n  *02/06/2024 10:15*\n\n" +
		"- " + preview(long) + "\n  *01/06/2024 09:05*\n\n"
	assert.Equal(t, want, got)
}

func TestSearch_CappedAtTen(t *testing.T) {
	var ns []domain.Note
	for i := 0; i < 15; i++ {
		ns = append(ns, note("r1", fmt.Sprintf("idea %d", i), fixedNow.Add(time.Duration(i)*time.Minute)))
	}
	e := newEngine(&fakeNotes{notes: ns})

	got, err := e.Search(context.Background(), "r1", "idea")
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(got, "- idea"))
	assert.True(t, strings.Index(got, "idea 14") < strings.Index(got, "idea 13"), "newest first")
}

func TestExecute_Dispatch(t *testing.T) {
	notes := &fakeNotes{notes: []domain.Note{note("r1", "comprar pan", fixedNow.Add(-time.Minute))}}
	e := newEngine(notes)
	ctx := context.Background()

	got, err := e.Execute(ctx, domain.CommandSummary, "/resumen", "r1")
	require.NoError(t, err)
	assert.Contains(t, got, "(all)")

	got, err = e.Execute(ctx, domain.CommandToday, "/hoy", "r1")
	require.NoError(t, err)
	assert.Contains(t, got, "(today)")

	got, err = e.Execute(ctx, domain.CommandWeek, "/semana", "r1")
	require.NoError(t, err)
	assert.Contains(t, got, "(week)")
	assert.Equal(t, fixedNow.AddDate(0, 0, -7), notes.lastSince)

	got, err = e.Execute(ctx, domain.CommandSearch, "/buscar   pan  ", "r1")
	require.NoError(t, err)
	assert.Contains(t, got, "'pan'")

	got, err = e.Execute(ctx, domain.CommandSearch, "/buscar", "r1")
	require.NoError(t, err)
	assert.Equal(t, msgNoTerm, got)

	got, err = e.Execute(ctx, "/ayuda", "/ayuda", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Comando no reconocido.", got)
}
