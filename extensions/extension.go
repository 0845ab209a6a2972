// Package extensions implements the per-state extension set.
//
// # Overview
//
// Every state owns a Manager holding its loaded extensions in load order. The
// core notifies the Manager of state changes and of every filesystem operation
// clients perform through the RPC surface; the Manager hands each notification
// to every extension in turn.
//
// # Fault isolation
//
// Extension code is untrusted. Each Init, Unload and Notify call runs under a
// recover; a panicking extension is logged and skipped, and the remaining
// extensions are still notified.
//
// # Talking back to the core
//
// Extensions push messages (popups, status bar items) to the core through a
// Sender. Sends are bounded by SendTimeout because notifications are delivered
// while the owning state is locked, and the router may itself be waiting on
// that lock.
package extensions

import "github.com/zhubert/plural-editor/messaging"

// Extension is a pluggable observer of a state.
type Extension interface {
	// Init is called once when the state's extensions are started.
	Init()
	// Unload is called when the extension is removed or the core stops.
	Unload()
	// Notify delivers one event. Calls are sequential, never concurrent.
	Notify(msg messaging.ExtensionMessage)
	// Info identifies the running extension.
	Info() ExtensionInfo
}

// ExtensionInfo identifies a running extension.
type ExtensionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ManifestInfo describes an extension package.
type ManifestInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Repository  string `json:"repository,omitempty" yaml:"repository,omitempty"`
	Main        string `json:"main,omitempty" yaml:"main,omitempty"`
}

// ManifestFromInfo builds a minimal manifest for built-in extensions.
func ManifestFromInfo(info ExtensionInfo) ManifestInfo {
	return ManifestInfo{ID: info.ID, Name: info.Name}
}
