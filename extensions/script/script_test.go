package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/messaging"
)

const popupScript = `
var events = [];

function init() {
	core.send({msg_type: "ShowStatusBarItem", state_id: 1, trigger: "ext", statusbar_item_id: "ready", label: core.manifest.name});
}

function notify(event) {
	events.push(event.kind);
	if (event.kind === "ReadFile") {
		core.send({msg_type: "ShowPopup", state_id: event.state_id, trigger: "ext", popup_id: "read", title: event.path, content: event.result.Ok.content});
	}
}
`

func writeExtension(t *testing.T, manifest, source string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte(source), 0o644))
	return dir
}

func TestLoad_ManifestAndInfo(t *testing.T) {
	dir := writeExtension(t, "id: popups\nname: Popups\nversion: 0.1.0\n", popupScript)

	ext, err := Load(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, extensions.ExtensionInfo{ID: "popups", Name: "Popups"}, ext.Info())
	assert.Equal(t, "0.1.0", ext.Manifest().Version)
	assert.Equal(t, "main.js", ext.Manifest().Main)
}

func TestLoadManifest_Errors(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	assert.Error(t, err)

	dir := writeExtension(t, "name: no id\n", "")
	_, err = LoadManifest(dir)
	assert.Error(t, err)

	dir = writeExtension(t, "id: [broken\n", "")
	_, err = LoadManifest(dir)
	assert.Error(t, err)
}

func TestNew_CompileError(t *testing.T) {
	_, err := New(extensions.ManifestInfo{ID: "bad"}, "bad.js", "function (", nil)
	assert.Error(t, err)
}

func TestExtension_InitSendsToCore(t *testing.T) {
	ch := make(chan messaging.Message, 4)
	ext, err := New(extensions.ManifestInfo{ID: "popups", Name: "Popups"}, "main.js", popupScript, extensions.NewSender(ch))
	require.NoError(t, err)

	ext.Init()

	require.Len(t, ch, 1)
	assert.Equal(t, messaging.ShowStatusBarItem{
		StateID:         1,
		Trigger:         "ext",
		StatusBarItemID: "ready",
		Label:           "Popups",
	}, <-ch)
}

func TestExtension_NotifyReceivesEncodedEvent(t *testing.T) {
	ch := make(chan messaging.Message, 4)
	ext, err := New(extensions.ManifestInfo{ID: "popups"}, "main.js", popupScript, extensions.NewSender(ch))
	require.NoError(t, err)

	ext.Notify(messaging.ReadFile{
		StateID:    1,
		Filesystem: "mem",
		Path:       "/a.txt",
		Result: filesystem.Result[filesystem.FileInfo]{
			Value: filesystem.FileInfo{Content: "hi", Format: filesystem.TextFormat("UTF-8")},
		},
	})

	require.Len(t, ch, 1)
	assert.Equal(t, messaging.ShowPopup{
		StateID: 1,
		Trigger: "ext",
		PopupID: "read",
		Title:   "/a.txt",
		Content: "hi",
	}, <-ch)

	events := ext.vm.Get("events").Export()
	assert.Equal(t, []any{"ReadFile"}, events)
}

func TestExtension_MissingHooksAreNoops(t *testing.T) {
	ext, err := New(extensions.ManifestInfo{ID: "empty"}, "main.js", "var x = 1;", nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		ext.Init()
		ext.Notify(messaging.CoreMessage{Message: messaging.ListenToState{StateID: 1}})
		ext.Unload()
	})
}

func TestExtension_ScriptErrorsAreContained(t *testing.T) {
	ext, err := New(extensions.ManifestInfo{ID: "throws"}, "main.js", `function init() { throw new Error("boom"); }`, nil)
	require.NoError(t, err)

	assert.NotPanics(t, ext.Init)
}

func TestExtension_InvalidSendIsReported(t *testing.T) {
	ch := make(chan messaging.Message, 1)
	src := `
var failed = false;
function init() {
	try { core.send({msg_type: "Nope"}); } catch (e) { failed = true; }
}`
	ext, err := New(extensions.ManifestInfo{ID: "bad-send"}, "main.js", src, extensions.NewSender(ch))
	require.NoError(t, err)

	ext.Init()
	assert.Equal(t, true, ext.vm.Get("failed").Export())
	assert.Empty(t, ch)
}

func TestExtension_RunawayScriptIsInterrupted(t *testing.T) {
	ext, err := New(extensions.ManifestInfo{ID: "spin"}, "main.js", `function init() { for (;;) {} }`, nil,
		WithCallTimeout(20*time.Millisecond))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ext.Init()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runaway script was not interrupted")
	}

	// The VM stays usable after an interrupt.
	assert.NotPanics(t, ext.Unload)
}
