package acp

import (
	"path/filepath"
	"strings"

	"github.com/baton-gw/baton/internal/common/errors"
)

// resolveWithinRoot normalizes p (absolute form, `..` segments, symlinks) and
// verifies the result lies under root. Symlinks are resolved before the
// prefix check so a link pointing outside the project cannot escape it. For
// paths that do not exist yet (writes), the parent directory is resolved
// instead. Returns the resolved absolute path.
func resolveWithinRoot(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		dir, base := filepath.Split(p)
		rdir, derr := filepath.EvalSymlinks(filepath.Clean(dir))
		if derr != nil {
			resolved = p
		} else {
			resolved = filepath.Join(rdir, base)
		}
	}

	rroot, err := filepath.EvalSymlinks(root)
	if err != nil {
		rroot = filepath.Clean(root)
	}

	rel, err := filepath.Rel(rroot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.AccessDenied(p)
	}
	return resolved, nil
}
