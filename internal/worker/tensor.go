package worker

import "github.com/domaintensor/crawler/pkg/models"

// modelTarget pairs a model with the provider that serves it and the tier
// that provider belongs to, resolved once from configuration at startup.
type modelTarget struct {
	Provider string
	Model    string
	Tier     models.Tier
}

// allCells is the full tensor coordinate set for a domain: every prompt
// crossed with every configured (provider, model) pair.
func allCells(prompts []promptDef, targets []modelTarget) []models.Cell {
	cells := make([]models.Cell, 0, len(prompts)*len(targets))
	for _, p := range prompts {
		for _, t := range targets {
			cells = append(cells, models.Cell{PromptID: p.ID, Model: t.Model, Provider: t.Provider})
		}
	}
	return cells
}

type promptDef struct {
	ID   string
	Text string
}
