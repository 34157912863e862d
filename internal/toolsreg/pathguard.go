package toolsreg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// resolvePath resolves path relative to baseDir and validates that its
// canonical form lies under at least one of allowedDirs (after realpath).
// It is hardened against the same classes of escape the teacher's
// single-workspace resolvePath rejects: symlink escapes (including broken
// symlinks whose target escapes), TOCTOU-mutable symlink parents, and
// hardlinked regular files.
func resolvePath(path, baseDir string, allowedDirs []string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(baseDir, path))
	}

	allowedReal := canonicalizeAll(allowedDirs, baseDir)

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
				target, readErr := os.Readlink(absResolved)
				if readErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve symlink")
				}
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(absResolved), target)
				}
				target = filepath.Clean(target)

				resolvedTarget, resolveErr := resolveThroughExistingAncestors(target)
				if resolveErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve broken symlink target")
				}
				if !insideAny(resolvedTarget, allowedReal) {
					return "", fmt.Errorf("access denied: broken symlink target outside allowlist")
				}
				real = resolvedTarget
			} else {
				parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
				if parentErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve path")
				}
				real = filepath.Join(parentReal, filepath.Base(absResolved))
			}
		} else {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
	}

	if !insideAny(real, allowedReal) {
		return "", fmt.Errorf("access denied: path not in allowlist")
	}

	if hasMutableSymlinkParent(real) {
		return "", fmt.Errorf("access denied: path contains mutable symlink component")
	}

	if err := checkHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

func canonicalizeAll(dirs []string, baseDir string) []string {
	all := dirs
	if len(all) == 0 {
		all = []string{baseDir}
	}
	out := make([]string, 0, len(all))
	for _, d := range all {
		abs, _ := filepath.Abs(d)
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			real = abs
		}
		out = append(out, real)
	}
	return out
}

func insideAny(child string, parents []string) bool {
	for _, p := range parents {
		if isPathInside(child, p) {
			return true
		}
	}
	return false
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return fmt.Errorf("access denied: hardlinked file not allowed")
		}
	}
	return nil
}
