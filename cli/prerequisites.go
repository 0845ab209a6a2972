package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhubert/plural-editor/config"
	"github.com/zhubert/plural-editor/extensions/script"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/paths"
)

// Prerequisite is something the core needs before it can serve.
type Prerequisite struct {
	Name        string // Short name (e.g., "config", "log directory")
	Required    bool   // Whether serve fails without it
	Description string // Human-readable description
	// Probe returns a detail string on success.
	Probe func() (string, error)
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	OK           bool
	Detail       string
	Error        error
}

// DefaultPrerequisites returns the checks run by `doctor` for a loaded
// configuration. cfgErr is the error from loading it, if any.
func DefaultPrerequisites(cfg *config.Config, cfgErr error) []Prerequisite {
	prereqs := []Prerequisite{
		{
			Name:        "config",
			Required:    true,
			Description: "Configuration file",
			Probe: func() (string, error) {
				if cfgErr != nil {
					return "", cfgErr
				}
				return fmt.Sprintf("%d states, %d tokens", len(cfg.States), len(cfg.Tokens)), nil
			},
		},
		{
			Name:        "log directory",
			Required:    cfg == nil || cfg.Log.File != "-",
			Description: "Writable log directory",
			Probe: func() (string, error) {
				path, err := logger.DefaultLogPath()
				if cfg != nil && cfg.Log.File != "" && cfg.Log.File != "-" {
					path, err = cfg.Log.File, nil
				}
				if err != nil {
					return "", err
				}
				return path, checkWritable(filepath.Dir(path))
			},
		},
	}

	if cfg == nil {
		return prereqs
	}
	for _, sc := range cfg.States {
		for _, ec := range sc.Extensions {
			if ec.Path == "" {
				continue
			}
			prereqs = append(prereqs, extensionPrerequisite(cfg, sc.ID, ec.Path))
		}
	}
	return prereqs
}

func extensionPrerequisite(cfg *config.Config, stateID uint8, path string) Prerequisite {
	return Prerequisite{
		Name:        fmt.Sprintf("extension %s (state %d)", path, stateID),
		Required:    true,
		Description: "Script extension manifest",
		Probe: func() (string, error) {
			dir := path
			if !filepath.IsAbs(dir) {
				base := cfg.Extensions.Dir
				if base == "" {
					d, err := paths.ExtensionsDir()
					if err != nil {
						return "", err
					}
					base = d
				}
				dir = filepath.Join(base, dir)
			}
			manifest, err := script.LoadManifest(dir)
			if err != nil {
				return "", err
			}
			if manifest.Version != "" {
				return manifest.ID + " " + manifest.Version, nil
			}
			return manifest.ID, nil
		},
	}
}

// checkWritable creates dir if needed and verifies a file can be created in it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Check runs a single prerequisite probe
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	detail, err := prereq.Probe()
	if err != nil {
		result.Error = fmt.Errorf("%s: %w", prereq.Name, err)
		return result
	}

	result.OK = true
	// Limit length to avoid overly long detail strings
	if len(detail) > 100 {
		detail = detail[:100] + "..."
	}
	result.Detail = detail
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateRequired returns an error describing every failed required check.
func ValidateRequired(results []CheckResult) error {
	var missing []string

	for _, r := range results {
		if r.OK || !r.Prerequisite.Required {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s)\n    %v",
			r.Prerequisite.Name, r.Prerequisite.Description, r.Error))
	}

	if len(missing) > 0 {
		return fmt.Errorf("failed required checks:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.OK {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		if r.OK && r.Detail != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Detail))
		} else if !r.OK {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
