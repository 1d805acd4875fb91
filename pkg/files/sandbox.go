package files

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/metrics"
)

// resolveWithin maps a caller-supplied relative path to an absolute path
// under root. Lexical traversal is rejected before any filesystem access;
// symlinks on the existing prefix are resolved so a planted link cannot
// step out either.
func resolveWithin(root, rel string) (string, error) {
	const op = "files.resolveWithin"

	if filepath.IsAbs(rel) {
		return "", escape(op, rel)
	}
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", escape(op, rel)
	}
	if cleaned == "." {
		cleaned = ""
	}

	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errdefs.Wrap(err, errdefs.KindIO, op)
	}
	full := filepath.Join(canonRoot, cleaned)

	resolved, err := evalExistingPrefix(full)
	if err != nil {
		return "", errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if resolved != canonRoot && !strings.HasPrefix(resolved, canonRoot+string(filepath.Separator)) {
		return "", escape(op, rel)
	}
	return full, nil
}

func escape(op, rel string) error {
	metrics.SandboxRejections.Inc()
	return errdefs.Errorf(errdefs.KindPathEscape, "%s: %q escapes the mountpoint", op, rel)
}

// evalExistingPrefix resolves symlinks on the longest existing prefix of p
// and re-appends the not-yet-created remainder verbatim.
func evalExistingPrefix(p string) (string, error) {
	existing := p
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

// metaKey is the canonical slash-separated form a path takes in the
// file_metadata table. The mountpoint root is the empty string.
func metaKey(rel string) string {
	k := path.Clean(rel)
	if k == "." || k == "/" {
		return ""
	}
	return strings.TrimPrefix(k, "/")
}
