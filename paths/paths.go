// Package paths locates the editor core's directories on disk.
//
// A config directory holds config.yaml and extensions/, and a state
// directory holds logs/. When ~/.plural-editor exists both live there.
// Otherwise XDG_CONFIG_HOME and XDG_STATE_HOME are honoured if either is
// set, and ~/.plural-editor is used when neither is.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appDirName = "plural-editor"

type layout struct {
	config string
	state  string
	flat   bool
}

var (
	mu     sync.Mutex
	cached *layout
)

func current() (*layout, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached == nil {
		l, err := detect()
		if err != nil {
			return nil, err
		}
		cached = l
	}
	return cached, nil
}

func detect() (*layout, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	flat := &layout{flat: true}
	flat.config = filepath.Join(home, "."+appDirName)
	flat.state = flat.config

	if fi, err := os.Stat(flat.config); err == nil && fi.IsDir() {
		return flat, nil
	}

	cfgHome, stateHome := os.Getenv("XDG_CONFIG_HOME"), os.Getenv("XDG_STATE_HOME")
	if cfgHome == "" && stateHome == "" {
		return flat, nil
	}
	if cfgHome == "" {
		cfgHome = filepath.Join(home, ".config")
	}
	if stateHome == "" {
		stateHome = filepath.Join(home, ".local", "state")
	}
	return &layout{
		config: filepath.Join(cfgHome, appDirName),
		state:  filepath.Join(stateHome, appDirName),
	}, nil
}

func under(dir func() (string, error), name string) (string, error) {
	base, err := dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}

// ConfigDir is the directory holding config.yaml.
func ConfigDir() (string, error) {
	l, err := current()
	if err != nil {
		return "", err
	}
	return l.config, nil
}

// StateDir is the directory for runtime data such as logs.
func StateDir() (string, error) {
	l, err := current()
	if err != nil {
		return "", err
	}
	return l.state, nil
}

// ConfigFilePath is the default configuration file.
func ConfigFilePath() (string, error) { return under(ConfigDir, "config.yaml") }

// ExtensionsDir is where relative script extension paths are resolved.
func ExtensionsDir() (string, error) { return under(ConfigDir, "extensions") }

// LogsDir is the directory for log files.
func LogsDir() (string, error) { return under(StateDir, "logs") }

// IsFlatLayout reports whether config and state share ~/.plural-editor.
// It also reports true when the home directory cannot be found.
func IsFlatLayout() bool {
	l, err := current()
	return err != nil || l.flat
}

// Reset forgets the detected layout. Tests use it after changing HOME.
func Reset() {
	mu.Lock()
	cached = nil
	mu.Unlock()
}
