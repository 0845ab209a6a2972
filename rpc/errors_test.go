package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-editor/filesystem"
)

func TestError_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"state not found", ErrStateNotFound, `"StateNotFound"`},
		{"bad token", ErrBadToken, `"BadToken"`},
		{"timeout", ErrTimeout, `"Timeout"`},
		{"extension not found", ErrExtensionNotFound, `"ExtensionNotFound"`},
		{"filesystem not found", ErrFilesystemNotFound, `{"Fs":"FilesystemNotFound"}`},
		{"file not found", FsError(&filesystem.Error{Kind: filesystem.KindFileNotFound, Path: "/x"}), `{"Fs":"FileNotFound"}`},
		{"fs without detail", &Error{Kind: KindFs}, `{"Fs":"Other"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.err)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestError_Is(t *testing.T) {
	notFound := FsError(&filesystem.Error{Kind: filesystem.KindFileNotFound, Path: "/x"})

	assert.ErrorIs(t, notFound, &Error{Kind: KindFs})
	assert.ErrorIs(t, notFound, FsError(filesystem.ErrFileNotFound))
	assert.ErrorIs(t, notFound, filesystem.ErrFileNotFound)
	assert.NotErrorIs(t, notFound, ErrFilesystemNotFound)
	assert.NotErrorIs(t, ErrBadToken, ErrStateNotFound)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", ErrBadToken), ErrBadToken)
}

func TestToError(t *testing.T) {
	assert.NoError(t, toError(nil))
	assert.Same(t, ErrBadToken, toError(fmt.Errorf("x: %w", ErrBadToken)))
	assert.Same(t, ErrTimeout, toError(context.DeadlineExceeded))
	assert.Same(t, ErrTimeout, toError(fmt.Errorf("lock: %w", context.Canceled)))

	fsErr := &filesystem.Error{Kind: filesystem.KindNotAFile, Path: "/d"}
	converted := toError(fsErr)
	assert.ErrorIs(t, converted, filesystem.ErrNotAFile)

	var rpcErr *Error
	require.ErrorAs(t, toError(errors.New("disk on fire")), &rpcErr)
	assert.Equal(t, KindFs, rpcErr.Kind)
	assert.Equal(t, filesystem.KindOther, rpcErr.Fs.Kind)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "rpc: BadToken", ErrBadToken.Error())
	assert.Contains(t, ErrFilesystemNotFound.Error(), "FilesystemNotFound")
}
