package library

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteM3U writes an extended M3U with one entry per line. Entries are
// written as given, normally relative to the playlist's directory.
func WriteM3U(path string, entries []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create playlist dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create m3u")
	}
	w := bufio.NewWriter(f)
	w.WriteString("#EXTM3U\n")
	for _, e := range entries {
		w.WriteString(e)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "write m3u")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close m3u")
	}
	SetPermissions(path)
	return nil
}

// TrackRef names a track that may appear in a playlist file.
type TrackRef struct {
	Artist string
	Title  string
}

// BuildPlaylist resolves tracks on disk and writes "<name>.m3u". Tracks are
// looked up in the playlist folder when the playlists directory is enabled
// and usePlaylistsDir is set, otherwise in the singles tree. It returns the
// written path, or "" when no file could be resolved.
func (l *Layout) BuildPlaylist(name string, tracks []TrackRef, usePlaylistsDir bool) (string, error) {
	safe := Sanitize(name)
	playlistsDir, enabled := l.PlaylistsDir()
	inPlaylists := usePlaylistsDir && enabled

	var entries []string
	for _, t := range tracks {
		if inPlaylists {
			stem := PlaylistStem(t.Artist, t.Title, t.Title)
			for _, ext := range AudioExtensions {
				if _, err := os.Stat(filepath.Join(playlistsDir, safe, stem+ext)); err == nil {
					entries = append(entries, safe+"/"+stem+ext)
					break
				}
			}
			continue
		}
		if path, ok := l.FindDuplicate(t.Artist, t.Title); ok {
			if rel, ok := Rel(l.SinglesDir(), path); ok {
				entries = append(entries, rel)
			}
		}
	}
	if len(entries) == 0 {
		return "", nil
	}

	dir := l.SinglesDir()
	if inPlaylists {
		dir = playlistsDir
	}
	path := filepath.Join(dir, safe+".m3u")
	if err := WriteM3U(path, entries); err != nil {
		return "", err
	}
	return path, nil
}
