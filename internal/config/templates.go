package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Templates holds the position-indexed announcement lines. Slot 0 is the
// match on deck, later slots are matches queueing behind it. Placeholders
// {teams}, {match}, and {field} are substituted at compose time.
type Templates struct {
	Slots []string `yaml:"slots"`
}

// DefaultTemplates mirrors the announcement copy used at events when no
// template file is provided.
func DefaultTemplates() Templates {
	return Templates{
		Slots: []string{
			"{teams} — **{match}** is NEXT on field {field}! Head to the field now.",
			"{teams} — {match} is queueing for field {field}. Start heading over.",
			"{teams} — {match} is two away (field {field}). Finish up in the pits.",
		},
	}
}

func LoadTemplates(path string) (Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Templates{}, fmt.Errorf("read templates: %w", err)
	}

	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Templates{}, fmt.Errorf("parse templates: %w", err)
	}
	if len(t.Slots) == 0 {
		return Templates{}, fmt.Errorf("templates: no slots defined in %s", path)
	}

	return t, nil
}
