package summary

import "strings"

// theme is a keyword bucket. Buckets are checked in declaration order and the
// first one with a keyword contained in the note wins.
type theme struct {
	Name     string
	Keywords []string
}

var themes = []theme{
	{Name: "Trabajo", Keywords: []string{"trabajo", "proyecto", "oficina", "empresa"}},
	{Name: "Personal", Keywords: []string{"personal", "familia", "amigos", "casa"}},
	{Name: "Ideas", Keywords: []string{"idea", "invento", "crear", "innovar"}},
	{Name: "Educación", Keywords: []string{"estudio", "aprender", "curso", "libro"}},
	{Name: "Salud", Keywords: []string{"salud", "ejercicio", "dieta", "médico"}},
}

const fallbackTheme = "General"

// Classify returns the theme for content.
func Classify(content string) string {
	lower := strings.ToLower(content)
	for _, t := range themes {
		for _, kw := range t.Keywords {
			if strings.Contains(lower, kw) {
				return t.Name
			}
		}
	}
	return fallbackTheme
}

// preview truncates to 100 characters, appending "..." when cut.
func preview(content string) string {
	const limit = 100
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
