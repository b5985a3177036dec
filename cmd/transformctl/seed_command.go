package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by the seed command
type seedFile struct {
	Projects    []seedProject    `yaml:"projects"`
	Experiences []seedExperience `yaml:"experiences"`
	Sessions    []seedSession    `yaml:"sessions"`
}

type seedMedia struct {
	URL      string `yaml:"url"`
	MimeType string `yaml:"mime_type"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
}

type seedProject struct {
	ID       string               `yaml:"id"`
	Name     string               `yaml:"name"`
	Overlays map[string]seedMedia `yaml:"overlays"`
}

type seedNode struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

type seedOutcome struct {
	Type    string         `yaml:"type"`
	Prompt  string         `yaml:"prompt"`
	Nodes   []seedNode     `yaml:"nodes"`
	Options map[string]any `yaml:"options"`
}

type seedExperience struct {
	ID            string        `yaml:"id"`
	ProjectID     string        `yaml:"project_id"`
	Name          string        `yaml:"name"`
	MediaType     string        `yaml:"media_type"`
	AspectRatio   string        `yaml:"aspect_ratio"`
	ApplyOverlay  bool          `yaml:"apply_overlay"`
	ConfigVersion int           `yaml:"config_version"`
	Steps         []domain.Step `yaml:"steps"`
	Outcome       seedOutcome   `yaml:"outcome"`
}

type seedSession struct {
	ID           string         `yaml:"id"`
	ProjectID    string         `yaml:"project_id"`
	ExperienceID string         `yaml:"experience_id"`
	Responses    map[string]any `yaml:"responses"`
}

func (m seedMedia) toDomain() *domain.MediaRef {
	return &domain.MediaRef{URL: m.URL, MimeType: m.MimeType, Width: m.Width, Height: m.Height}
}

func (p seedProject) toDomain() *domain.Project {
	project := &domain.Project{ID: p.ID, Name: p.Name}
	if len(p.Overlays) > 0 {
		project.Overlays = make(map[string]*domain.MediaRef, len(p.Overlays))
		for key, media := range p.Overlays {
			project.Overlays[key] = media.toDomain()
		}
	}
	return project
}

func (e seedExperience) toDomain() *domain.Experience {
	nodes := make([]domain.TransformNode, 0, len(e.Outcome.Nodes))
	for _, n := range e.Outcome.Nodes {
		nodes = append(nodes, domain.TransformNode{ID: n.ID, Type: n.Type, Config: n.Config})
	}

	return &domain.Experience{
		ID:           e.ID,
		ProjectID:    e.ProjectID,
		Name:         e.Name,
		MediaType:    domain.MediaType(e.MediaType),
		AspectRatio:  domain.AspectRatio(e.AspectRatio),
		ApplyOverlay: e.ApplyOverlay,
		Steps:        e.Steps,
		Outcome: domain.OutcomeConfig{
			Type:    e.Outcome.Type,
			Prompt:  e.Outcome.Prompt,
			Nodes:   nodes,
			Options: e.Outcome.Options,
		},
		ConfigVersion: e.ConfigVersion,
	}
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, p := range seed.Projects {
		if p.ID == "" {
			return nil, fmt.Errorf("project id is required")
		}
	}
	for _, e := range seed.Experiences {
		if e.ID == "" || e.ProjectID == "" {
			return nil, fmt.Errorf("experience id and project_id are required")
		}
	}
	for _, s := range seed.Sessions {
		if s.ID == "" || s.ProjectID == "" {
			return nil, fmt.Errorf("session id and project_id are required")
		}
	}

	return &seed, nil
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load projects, experiences and sessions from a YAML file",
		Long: "Load projects, experiences and sessions from a YAML file.\n\n" +
			"Projects and experiences are upserted. Existing sessions only have their responses replaced.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeedFile(args[0])
			if err != nil {
				return err
			}

			return ctx.withStore(func(_ *config.Config, store *storage.Store, _ *logger.Logger) error {
				if err := store.Migrate(cmd.Context()); err != nil {
					return err
				}
				if err := applySeed(cmd.Context(), store, seed); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d projects, %d experiences, %d sessions\n",
					len(seed.Projects), len(seed.Experiences), len(seed.Sessions))
				return nil
			})
		},
	}
}

func applySeed(ctx context.Context, store *storage.Store, seed *seedFile) error {
	for _, p := range seed.Projects {
		if err := store.UpsertProject(ctx, p.toDomain()); err != nil {
			return fmt.Errorf("project %s: %w", p.ID, err)
		}
	}

	for _, e := range seed.Experiences {
		if err := store.UpsertExperience(ctx, e.toDomain()); err != nil {
			return fmt.Errorf("experience %s: %w", e.ID, err)
		}
	}

	for _, s := range seed.Sessions {
		_, err := store.GetSession(ctx, s.ProjectID, s.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			err = store.CreateSession(ctx, &domain.Session{
				ID:           s.ID,
				ProjectID:    s.ProjectID,
				ExperienceID: s.ExperienceID,
				Responses:    s.Responses,
			})
		case err == nil:
			err = store.UpdateSessionResponses(ctx, s.ProjectID, s.ID, s.Responses)
		}
		if err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
	}

	return nil
}
