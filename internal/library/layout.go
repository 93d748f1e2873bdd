// Package library places downloaded audio into the managed music tree.
package library

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

// MaxFilenameLength caps sanitised names, in runes.
const MaxFilenameLength = 200

// AudioExtensions are checked, in order, when looking for a track on disk.
var AudioExtensions = []string{".flac", ".opus", ".m4a", ".webm", ".mp3", ".ogg"}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

// Sanitize strips characters that break common filesystems and collapses whitespace.
func Sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
	if r := []rune(name); len(r) > MaxFilenameLength {
		name = string(r[:MaxFilenameLength])
	}
	return name
}

// Layout resolves library directories from runtime settings on every call,
// so settings changes apply to the next job.
type Layout struct {
	root     string
	settings domain.Settings
	log      zerolog.Logger
}

// NewLayout creates a Layout rooted at root. An empty root falls back to the
// music_dir setting.
func NewLayout(root string, settings domain.Settings, log zerolog.Logger) *Layout {
	return &Layout{root: root, settings: settings, log: log}
}

// Root returns the music library root.
func (l *Layout) Root() string {
	if l.root != "" {
		return l.root
	}
	return l.settings.String("music_dir", "/music")
}

func (l *Layout) subdir(key, def string) (string, bool) {
	sub := strings.TrimSpace(l.settings.String(key, def))
	switch sub {
	case "":
		return "", false
	case ".":
		return l.Root(), true
	}
	return filepath.Join(l.Root(), sub), true
}

// SinglesDir is where single tracks land. "." means the root itself.
func (l *Layout) SinglesDir() string {
	dir, ok := l.subdir("singles_subdir", "Singles")
	if !ok {
		return filepath.Join(l.Root(), "Singles")
	}
	return dir
}

// PlaylistsDir returns the playlists directory, or false when disabled.
func (l *Layout) PlaylistsDir() (string, bool) {
	return l.subdir("playlists_subdir", "")
}

// AlbumsDir returns the albums directory, or false when disabled.
func (l *Layout) AlbumsDir() (string, bool) {
	return l.subdir("albums_subdir", "Albums")
}

// ByArtist reports whether singles are grouped into artist folders.
func (l *Layout) ByArtist() bool {
	return l.settings.Bool("organise_by_artist", true)
}

// DownloadDir is the directory a single by artist goes into.
func (l *Layout) DownloadDir(artist string) string {
	if l.ByArtist() {
		return filepath.Join(l.SinglesDir(), Sanitize(artist))
	}
	return l.SinglesDir()
}

// AlbumDir is the directory for a whole album download.
func (l *Layout) AlbumDir(artist, album string) string {
	if dir, ok := l.AlbumsDir(); ok {
		return filepath.Join(dir, Sanitize(artist)+" - "+Sanitize(album))
	}
	return filepath.Join(l.SinglesDir(), Sanitize(artist), Sanitize(album))
}

func safeTitle(title, fallback string) string {
	if t := Sanitize(title); t != "" {
		return t
	}
	if f := Sanitize(fallback); f != "" {
		return f
	}
	return "Unknown Title"
}

// OutputStem is the file stem for a single: "Title" when grouped by artist,
// "Artist - Title" in the flat layout.
func (l *Layout) OutputStem(artist, title, fallback string) string {
	t := safeTitle(title, fallback)
	if l.ByArtist() {
		return t
	}
	return PlaylistStem(artist, title, fallback)
}

// PlaylistStem is the always-flat "Artist - Title" stem used inside playlist folders.
func PlaylistStem(artist, title, fallback string) string {
	a := Sanitize(artist)
	if a == "" {
		a = "Unknown Artist"
	}
	return a + " - " + safeTitle(title, fallback)
}

// FindDuplicate looks for an existing track by artist and title across the
// current layout, the artist-subfolder layout and the flat layout.
func (l *Layout) FindDuplicate(artist, title string) (string, bool) {
	st := Sanitize(title)
	sa := Sanitize(artist)
	stems := []string{st}
	if sa != "" {
		stems = append(stems, sa+" - "+st)
	}

	dirs := []string{
		l.DownloadDir(artist),
		filepath.Join(l.SinglesDir(), sa),
		l.SinglesDir(),
	}
	seen := make(map[string]bool)
	for _, d := range dirs {
		if seen[d] {
			continue
		}
		seen[d] = true
		if path, ok := findStem(d, stems); ok {
			return path, true
		}
	}
	return "", false
}

func findStem(dir string, stems []string) (string, bool) {
	if _, err := os.Stat(dir); err != nil {
		return "", false
	}
	for _, stem := range stems {
		for _, ext := range AudioExtensions {
			p := filepath.Join(dir, stem+ext)
			if _, err := os.Stat(p); err == nil {
				return p, true
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	lower := make(map[string]bool, len(stems))
	for _, s := range stems {
		lower[strings.ToLower(s)] = true
	}
	for _, ext := range AudioExtensions {
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ext) {
				continue
			}
			if lower[strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))] {
				return filepath.Join(dir, name), true
			}
		}
	}
	return "", false
}

// FindAudio returns dir/stem.<ext> for the first audio extension present.
func FindAudio(dir, stem string) (string, error) {
	for _, ext := range AudioExtensions {
		p := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	var seen []string
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && len(seen) < 8 {
				seen = append(seen, e.Name())
			}
		}
	}
	found := "none"
	if len(seen) > 0 {
		found = strings.Join(seen, ", ")
	}
	return "", &MissingAudioError{Dir: dir, Stem: stem, Found: found}
}

// MissingAudioError reports a download that produced no recognisable file.
type MissingAudioError struct {
	Dir, Stem, Found string
}

func (e *MissingAudioError) Error() string {
	return "download completed but expected '" + e.Stem + "' audio file not found in " + e.Dir + ". Found files: " + e.Found
}

// SetPermissions makes path world read/writeable for NAS shares. Errors are ignored.
func SetPermissions(path string) {
	_ = os.Chmod(path, 0o666)
}

// Rel returns path relative to base, or false when it lies outside.
func Rel(base, path string) (string, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
