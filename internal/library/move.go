package library

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// MoveFiles moves the regular files in srcDir into dstDir, skipping any
// that already exist there. It returns the destination paths it wrote.
func MoveFiles(log zerolog.Logger, srcDir, dstDir string) ([]string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, errors.Wrap(err, "read temp dir")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create target dir")
	}

	var moved []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, entry.Name())
		dst := filepath.Join(dstDir, entry.Name())

		err := MoveNoReplace(src, dst)
		if errors.Is(err, ErrExists) {
			log.Info().Str("file", entry.Name()).Msg("skipped, exists")
			continue
		}
		if err != nil {
			return moved, err
		}
		moved = append(moved, dst)
	}
	log.Debug().Int("count", len(moved)).Str("dir", dstDir).Msg("moved files")
	return moved, nil
}

// ErrExists is returned by MoveNoReplace when dst is already taken.
var ErrExists = errors.New("target exists")

// MoveNoReplace moves src to dst unless dst exists, in which case src is
// left alone and ErrExists is returned. The existence check and the move
// are a single link or O_EXCL create.
func MoveNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		return errors.Wrap(os.Remove(src), "remove source")
	}
	if errors.Is(err, fs.ErrExist) {
		return ErrExists
	}
	// no hard links across devices or on some filesystems
	if err := copyFile(src, dst, os.O_EXCL); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return err
	}
	os.Remove(src)
	return nil
}

// CopyFile copies src to dst, preserving the source mode.
func CopyFile(src, dst string) error {
	return copyFile(src, dst, os.O_TRUNC)
}

func copyFile(src, dst string, flag int) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Wrap(err, "stat source")
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|flag, info.Mode().Perm())
	if err != nil {
		return errors.Wrap(err, "create destination")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Wrapf(err, "copy %s", filepath.Base(src))
	}
	return out.Close()
}

// CleanupTemp removes leftover "<stem>.temp.*" files in dir and returns how many went.
func CleanupTemp(log zerolog.Logger, dir, stem string) int {
	matches, _ := filepath.Glob(filepath.Join(dir, globEscape(stem)+".temp.*"))
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
			log.Info().Str("file", filepath.Base(m)).Msg("cleaned up temp file")
		}
	}
	return removed
}

func globEscape(s string) string {
	r := strings.NewReplacer(`[`, `\[`, `]`, `\]`, `*`, `\*`, `?`, `\?`)
	return r.Replace(s)
}

// Relocate moves file into newDir after an artist rename. It never
// overwrites: on collision the original path is returned unchanged. A
// sidecar .lrc follows the file and the old directory is removed if empty.
func Relocate(log zerolog.Logger, file, newDir string) string {
	oldDir := filepath.Dir(file)
	if filepath.Clean(newDir) == filepath.Clean(oldDir) {
		return file
	}
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("relocate: create artist dir")
		return file
	}
	dst := filepath.Join(newDir, filepath.Base(file))
	err := MoveNoReplace(file, dst)
	if errors.Is(err, ErrExists) {
		log.Info().Str("target", dst).Msg("relocate: target exists, not moving")
		return file
	}
	if err != nil {
		log.Warn().Err(err).Msg("relocate failed")
		return file
	}
	SetPermissions(dst)

	oldLRC := strings.TrimSuffix(file, filepath.Ext(file)) + ".lrc"
	if _, err := os.Stat(oldLRC); err == nil {
		newLRC := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".lrc"
		if MoveNoReplace(oldLRC, newLRC) == nil {
			SetPermissions(newLRC)
		}
	}

	if entries, err := os.ReadDir(oldDir); err == nil && len(entries) == 0 {
		if os.Remove(oldDir) == nil {
			log.Info().Str("dir", filepath.Base(oldDir)).Msg("removed empty artist directory")
		}
	}
	log.Info().Str("from", oldDir).Str("to", newDir).Msg("artist normalised")
	return dst
}
