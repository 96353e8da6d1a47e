// Package registry provisions messaging sources from built-in defaults or a
// YAML seed file, and keeps the store in step with that file when watched.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"memoryagent/internal/channel"
	"memoryagent/internal/config"
	"memoryagent/internal/domain"
)

// DefaultSources are provisioned when no seed file is configured.
func DefaultSources() []domain.Source {
	return []domain.Source{
		{
			Name:   "WhatsApp",
			URL:    "https://api.twilio.com/2010-04-01",
			Active: true,
			Credentials: domain.Credentials{
				Twilio: &domain.TwilioCredentials{},
			},
		},
		{
			Name:   "Twilio",
			URL:    "https://api.twilio.com/2010-04-01",
			Active: true,
			Credentials: domain.Credentials{
				Twilio: &domain.TwilioCredentials{},
			},
		},
		{
			Name:   "Telegram",
			URL:    "https://api.telegram.org/bot",
			Active: true,
			Credentials: domain.Credentials{
				Telegram: &domain.TelegramCredentials{},
			},
		},
	}
}

type seedFile struct {
	Sources []seedEntry `yaml:"sources"`
}

type seedEntry struct {
	Name        string             `yaml:"name"`
	APIKey      string             `yaml:"apiKey"`
	URL         string             `yaml:"url"`
	Credentials domain.Credentials `yaml:"credentials"`
	Active      *bool              `yaml:"active"` // defaults to true
}

// LoadSeedFile reads a YAML list of sources. ${VAR} references are expanded
// the same way as in the JSON config.
func LoadSeedFile(path string) ([]domain.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal([]byte(config.ExpandEnvVars(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Sources))
	sources := make([]domain.Source, 0, len(f.Sources))
	for i, e := range f.Sources {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("seed file %s: entry %d has no name", path, i)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("seed file %s: duplicate source %q", path, name)
		}
		seen[key] = true

		active := true
		if e.Active != nil {
			active = *e.Active
		}
		sources = append(sources, domain.Source{
			Name:        name,
			APIKey:      e.APIKey,
			URL:         e.URL,
			Credentials: e.Credentials,
			Active:      active,
		})
	}
	return sources, nil
}

// Report summarizes a Seed run.
type Report struct {
	Created  []string
	Existing []string
	Updated  []string
}

// Seed creates every source that does not exist yet. With reconcile set,
// existing sources are brought in line with the input: active flag, api key,
// url and credentials.
func Seed(ctx context.Context, store domain.SourceStore, sources []domain.Source, reconcile bool, logger *slog.Logger) (Report, error) {
	var rep Report

	var current map[string]domain.Source
	if reconcile {
		existing, err := store.ListSources(ctx)
		if err != nil {
			return rep, fmt.Errorf("list sources: %w", err)
		}
		current = make(map[string]domain.Source, len(existing))
		for _, s := range existing {
			current[strings.ToLower(s.Name)] = s
		}
	}

	for _, src := range sources {
		if _, err := channel.FamilyOf(src.Name); err != nil {
			logger.Warn("seeding source without an adapter", "source", src.Name)
		}

		created, err := store.CreateSource(ctx, src)
		if err != nil {
			return rep, err
		}
		if created {
			logger.Info("source created", "source", src.Name, "active", src.Active)
			rep.Created = append(rep.Created, src.Name)
			continue
		}

		if reconcile {
			if stored, ok := current[strings.ToLower(src.Name)]; ok && differs(stored, src) {
				src.Name = stored.Name
				if err := store.UpdateSource(ctx, src); err != nil {
					return rep, err
				}
				logger.Info("source updated", "source", src.Name, "active", src.Active)
				rep.Updated = append(rep.Updated, src.Name)
				continue
			}
		}
		rep.Existing = append(rep.Existing, src.Name)
	}
	return rep, nil
}

// differs reports whether any seeded field of want disagrees with stored.
func differs(stored, want domain.Source) bool {
	if stored.Active != want.Active || stored.APIKey != want.APIKey || stored.URL != want.URL {
		return true
	}
	a, errA := stored.Credentials.MarshalColumn()
	b, errB := want.Credentials.MarshalColumn()
	return errA != nil || errB != nil || a != b
}
