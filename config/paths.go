package config

import "os"

// SamePath returns true if a and b refer to the same filesystem entry.
// It handles case-insensitive filesystems (e.g. macOS APFS) and symlinks
// by comparing device+inode via os.SameFile. Falls back to exact string
// comparison when either path cannot be stat'd.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// findSameRoot returns the first of roots that refers to the same directory
// as root.
func findSameRoot(roots []string, root string) (string, bool) {
	for _, r := range roots {
		if SamePath(r, root) {
			return r, true
		}
	}
	return "", false
}
