package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/orchestrator"
)

func newImportCmd(e *env) *cobra.Command {
	var (
		playlist     string
		playlistsDir bool
		noFLAC       bool
	)

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Search and queue a list of \"Artist - Title\" lines",
		Long: `Search every line of a track list and queue the best match for each.
Numbering, bullets and # comments are ignored. With --playlist the command
waits for the downloads, which run on a serve process, before writing the M3U.

Examples:
  musicgrabber import tracks.txt
  musicgrabber import tracks.txt --playlist "Road Trip" --playlists-dir
  pbpaste | musicgrabber import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read track list: %w", err)
			}

			convert := e.app.Settings.Bool("default_convert_to_flac", true)
			if noFLAC {
				convert = false
			}
			imp, err := e.app.Bulk.Start(cmd.Context(), orchestrator.ImportRequest{
				Tracks:          orchestrator.ParseTracks(string(data)),
				ConvertToFLAC:   convert,
				CreatePlaylist:  playlist != "",
				PlaylistName:    playlist,
				UsePlaylistsDir: playlistsDir,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Import %s: %d tracks\n", imp.ID, imp.TotalTracks)

			e.app.Bulk.Wait()
			done, err := e.app.Repo.GetImport(cmd.Context(), imp.ID)
			if err != nil {
				return fmt.Errorf("get import: %w", err)
			}
			fmt.Fprintf(out, "Status: %s (%d queued, %d failed)\n", done.Status, done.Queued, done.Failed)
			if done.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", done.Error)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&playlist, "playlist", "", "write an M3U playlist with this name once downloads finish")
	f.BoolVar(&playlistsDir, "playlists-dir", false, "file the tracks under the playlist's own folder")
	f.BoolVar(&noFLAC, "no-flac", false, "keep the source format")
	return cmd
}
