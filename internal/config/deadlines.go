package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DeadlineCalendar maps slot names to their submission deadlines. A missing
// slot means no deadline, so uploads there are never late.
type DeadlineCalendar struct {
	deadlines map[string]time.Time
}

type deadlineYAML struct {
	Deadlines map[string]string `yaml:"deadlines"`
}

// LoadDeadlines reads the YAML deadline calendar from path. A missing file is
// not an error: it yields an empty calendar.
func LoadDeadlines(path string) (*DeadlineCalendar, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			return &DeadlineCalendar{deadlines: map[string]time.Time{}}, nil
		}
		return nil, fmt.Errorf("op=config.LoadDeadlines: %w", err)
	}
	var doc deadlineYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("op=config.LoadDeadlines: %w", err)
	}
	out := make(map[string]time.Time, len(doc.Deadlines))
	for slot, ts := range doc.Deadlines {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("op=config.LoadDeadlines: slot %s: %w", slot, err)
		}
		out[slot] = t
	}
	return &DeadlineCalendar{deadlines: out}, nil
}

// NewDeadlineCalendar builds a calendar from an in-memory map (tests and
// surrounding workflow overrides).
func NewDeadlineCalendar(deadlines map[string]time.Time) *DeadlineCalendar {
	if deadlines == nil {
		deadlines = map[string]time.Time{}
	}
	return &DeadlineCalendar{deadlines: deadlines}
}

// IsLate reports whether an upload for the slot at the given time missed its
// deadline.
func (c *DeadlineCalendar) IsLate(slot string, at time.Time) bool {
	d, ok := c.deadlines[slot]
	if !ok {
		return false
	}
	return at.After(d)
}
