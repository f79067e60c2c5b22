// Package persona loads YAML persona profiles that shape the decision
// engine's system prompt.
package persona

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is one persona definition. The zero value plus a name is a valid
// minimal profile.
type Profile struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	SystemPrompt string   `yaml:"systemPrompt"`
	Tone         string   `yaml:"tone,omitempty"`
	Interests    []string `yaml:"interests,omitempty"`
	Rules        []string `yaml:"rules,omitempty"`
}

// Prompt renders the profile into a single system prompt string.
func (p Profile) Prompt() string {
	var b strings.Builder
	if p.SystemPrompt != "" {
		b.WriteString(p.SystemPrompt)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, "\n\nTone: %s", p.Tone)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "\n\nInterests: %s", strings.Join(p.Interests, ", "))
	}
	if len(p.Rules) > 0 {
		b.WriteString("\n\nRules:")
		for _, r := range p.Rules {
			fmt.Fprintf(&b, "\n- %s", r)
		}
	}
	return strings.TrimSpace(b.String())
}

// LoadFromDirectory loads persona profiles from YAML files in a directory.
// Files must have a .yaml or .yml extension. Unreadable or malformed files
// are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) (map[string]Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("persona directory does not exist, skipping", "dir", dir)
		return map[string]Profile{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	profiles := make(map[string]Profile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read persona file", "path", path, "err", err)
			continue
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse persona file", "path", path, "err", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		logger.Info("loaded persona profile", "name", p.Name, "path", path)
		profiles[p.Name] = p
	}

	return profiles, nil
}

// Select picks the named profile, falling back to a built-in default when
// the directory has no match.
func Select(profiles map[string]Profile, name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return Default()
}

// Default is the persona used when no profile is configured.
func Default() Profile {
	return Profile{
		Name: "default",
		SystemPrompt: "You are an autonomous agent observing several chat channels. " +
			"You decide on your own when something is worth responding to. " +
			"Stay quiet unless you add value, never repeat yourself, and keep replies short.",
	}
}
