package models

// MChart holds a rendered chart as produced by the charting hook.
type MChart struct {
	Format  string         `json:"format"`
	Content map[string]any `json:"content,omitempty"`
	Fig     any            `json:"-"`
}
