// Package script runs extensions written in JavaScript on an embedded goja VM.
//
// A script extension is a directory holding manifest.yaml and the entry file it
// names (main.js by default). The script may define the global functions
// init(), unload() and notify(event); each is optional. A global "core" object
// is provided:
//
//	core.manifest      the parsed manifest
//	core.send(msg)     push a message to the core, e.g. {msg_type: "ShowPopup", ...}
//	core.log(...args)  write to the core log
//
// notify receives the JSON form of the extension message (see
// messaging.EncodeExtensionMessage).
package script

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
)

const (
	manifestFileName = "manifest.yaml"
	defaultMain      = "main.js"

	// DefaultCallTimeout bounds a single init/unload/notify call into the script.
	DefaultCallTimeout = 5 * time.Second
)

// Extension is a JavaScript extension. The goja runtime is not safe for
// concurrent use, so every call into it holds mu.
type Extension struct {
	mu          sync.Mutex
	vm          *goja.Runtime
	manifest    extensions.ManifestInfo
	sender      *extensions.Sender
	callTimeout time.Duration

	initFn   goja.Callable
	unloadFn goja.Callable
	notifyFn goja.Callable

	log *slog.Logger
}

// Option configures an Extension.
type Option func(*Extension)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Extension) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// LoadManifest reads manifest.yaml from dir.
func LoadManifest(dir string) (extensions.ManifestInfo, error) {
	var manifest extensions.ManifestInfo

	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return manifest, fmt.Errorf("failed to read extension manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("failed to parse extension manifest: %w", err)
	}
	if manifest.ID == "" {
		return manifest, fmt.Errorf("extension manifest in %s has no id", dir)
	}
	if manifest.Main == "" {
		manifest.Main = defaultMain
	}
	return manifest, nil
}

// Load reads the manifest and entry script from dir and compiles them.
func Load(dir string, sender *extensions.Sender, opts ...Option) (*Extension, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	mainPath := filepath.Join(dir, manifest.Main)
	src, err := os.ReadFile(mainPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension script: %w", err)
	}
	return New(manifest, mainPath, string(src), sender, opts...)
}

// New compiles and evaluates source. name is used in stack traces.
func New(manifest extensions.ManifestInfo, name, source string, sender *extensions.Sender, opts ...Option) (*Extension, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("extension %s: compile: %w", manifest.ID, err)
	}

	e := &Extension{
		vm:          goja.New(),
		manifest:    manifest,
		sender:      sender,
		callTimeout: DefaultCallTimeout,
		log:         logger.WithComponent("script").With("extension", manifest.ID),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.installCore(); err != nil {
		return nil, err
	}
	if _, err := e.vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("extension %s: evaluate: %w", manifest.ID, err)
	}

	e.initFn = e.lookup("init")
	e.unloadFn = e.lookup("unload")
	e.notifyFn = e.lookup("notify")
	return e, nil
}

func (e *Extension) installCore() error {
	core := e.vm.NewObject()

	manifest, err := toJSValue(e.vm, e.manifest)
	if err != nil {
		return err
	}
	if err := core.Set("manifest", manifest); err != nil {
		return err
	}
	if err := core.Set("send", e.jsSend); err != nil {
		return err
	}
	if err := core.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		e.log.Info("script log", "args", args)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return e.vm.Set("core", core)
}

// jsSend converts a JS object into a core message and forwards it.
func (e *Extension) jsSend(call goja.FunctionCall) goja.Value {
	raw, err := json.Marshal(call.Argument(0).Export())
	if err != nil {
		panic(e.vm.NewTypeError("core.send: %v", err))
	}
	msg, err := messaging.Decode(raw)
	if err != nil {
		panic(e.vm.NewTypeError("core.send: %v", err))
	}
	return e.vm.ToValue(e.sender.Send(msg))
}

func (e *Extension) lookup(name string) goja.Callable {
	fn, ok := goja.AssertFunction(e.vm.Get(name))
	if !ok {
		return nil
	}
	return fn
}

// invoke calls fn with a watchdog that interrupts runaway scripts.
func (e *Extension) invoke(op string, fn goja.Callable, args ...goja.Value) {
	if fn == nil {
		return
	}

	timer := time.AfterFunc(e.callTimeout, func() {
		e.vm.Interrupt(fmt.Sprintf("%s exceeded %s", op, e.callTimeout))
	})
	defer func() {
		timer.Stop()
		e.vm.ClearInterrupt()
	}()

	if _, err := fn(goja.Undefined(), args...); err != nil {
		e.log.Error("script call failed", "op", op, "error", err)
	}
}

// Init implements extensions.Extension.
func (e *Extension) Init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invoke("init", e.initFn)
}

// Unload implements extensions.Extension.
func (e *Extension) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invoke("unload", e.unloadFn)
}

// Notify implements extensions.Extension.
func (e *Extension) Notify(msg messaging.ExtensionMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.notifyFn == nil {
		return
	}
	raw, err := messaging.EncodeExtensionMessage(msg)
	if err != nil {
		e.log.Error("failed to encode notification", "kind", msg.Kind(), "error", err)
		return
	}
	var event any
	if err := json.Unmarshal(raw, &event); err != nil {
		e.log.Error("failed to decode notification", "kind", msg.Kind(), "error", err)
		return
	}
	e.invoke("notify", e.notifyFn, e.vm.ToValue(event))
}

// Info implements extensions.Extension.
func (e *Extension) Info() extensions.ExtensionInfo {
	return extensions.ExtensionInfo{ID: e.manifest.ID, Name: e.manifest.Name}
}

// Manifest returns the parsed manifest.
func (e *Extension) Manifest() extensions.ManifestInfo {
	return e.manifest
}

func toJSValue(vm *goja.Runtime, v any) (goja.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return vm.ToValue(generic), nil
}
