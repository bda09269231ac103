package models

// MUserSettings is the persisted per-user document: credentials, command
// defaults and free-form preferences.
type MUserSettings struct {
	ID          string            `json:"id,omitempty"`
	Credentials map[string]string `json:"credentials"`
	Defaults    MDefaults         `json:"defaults"`
	Preferences map[string]any    `json:"preferences,omitempty"`
}

// MDefaults keys per-path defaults by logical command path.
type MDefaults struct {
	Commands map[string]map[string]any `json:"commands"`
}

// -----------------------------------------------------------------------------

// CommandDefaults returns the defaults stored for path, or nil.
func (u *MUserSettings) CommandDefaults(path string) map[string]any {
	if u == nil || u.Defaults.Commands == nil {
		return nil
	}
	return u.Defaults.Commands[path]
}
