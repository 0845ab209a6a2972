package filesystem

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path"
	"sort"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Billy implements Filesystem on top of a go-billy filesystem.
type Billy struct {
	fs billy.Filesystem
}

// NewBilly wraps an existing go-billy filesystem.
func NewBilly(fs billy.Filesystem) *Billy {
	return &Billy{fs: fs}
}

// NewMemory returns an empty in-memory filesystem.
func NewMemory() *Billy {
	return &Billy{fs: memfs.New()}
}

// NewLocal returns a filesystem rooted at root on the local disk. Paths given to
// it are resolved relative to root and cannot escape it.
func NewLocal(root string) *Billy {
	return &Billy{fs: osfs.New(root)}
}

// Raw returns the underlying go-billy filesystem.
func (b *Billy) Raw() billy.Filesystem {
	return b.fs
}

// ReadFileByPath implements Filesystem.
func (b *Billy) ReadFileByPath(ctx context.Context, p string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	info, err := b.fs.Stat(p)
	if err != nil {
		return FileInfo{}, classify(err, p, KindFileNotFound)
	}
	if info.IsDir() {
		return FileInfo{}, newError(KindNotAFile, p, nil)
	}

	data, err := util.ReadFile(b.fs, p)
	if err != nil {
		return FileInfo{}, classify(err, p, KindFileNotFound)
	}

	if utf8.Valid(data) {
		return FileInfo{Content: string(data), Format: TextFormat("UTF-8")}, nil
	}
	return FileInfo{
		Content: base64.StdEncoding.EncodeToString(data),
		Format:  FileFormat{Kind: FormatBinary},
	}, nil
}

// WriteFileByPath implements Filesystem. Missing parent directories are created.
func (b *Billy) WriteFileByPath(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if info, err := b.fs.Stat(p); err == nil && info.IsDir() {
		return newError(KindNotAFile, p, nil)
	}
	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return classify(err, dir, KindDirNotFound)
		}
	}
	if err := util.WriteFile(b.fs, p, []byte(content), 0o644); err != nil {
		return classify(err, p, KindOther)
	}
	return nil
}

// ListDirByPath implements Filesystem. Entries are sorted by name.
func (b *Billy) ListDirByPath(ctx context.Context, p string) ([]DirItemInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := b.fs.Stat(p)
	if err != nil {
		return nil, classify(err, p, KindDirNotFound)
	}
	if !info.IsDir() {
		return nil, newError(KindNotADirectory, p, nil)
	}

	entries, err := b.fs.ReadDir(p)
	if err != nil {
		return nil, classify(err, p, KindDirNotFound)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]DirItemInfo, 0, len(entries))
	for _, entry := range entries {
		items = append(items, DirItemInfo{
			Path:   path.Join(p, entry.Name()),
			Name:   entry.Name(),
			IsFile: !entry.IsDir(),
		})
	}
	return items, nil
}

// classify maps os-level errors onto filesystem kinds.
func classify(err error, p string, notExist ErrorKind) error {
	var fsErr *Error
	switch {
	case errors.As(err, &fsErr):
		return err
	case errors.Is(err, os.ErrNotExist):
		return newError(notExist, p, err)
	case errors.Is(err, os.ErrPermission):
		return newError(KindPermissionDenied, p, err)
	default:
		return newError(KindOther, p, err)
	}
}
