package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/orchestrator"
)

func newWatchCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow YouTube playlists and download new tracks",
	}

	var opts orchestrator.WatchOptions
	var noFLAC bool
	add := &cobra.Command{
		Use:   "add <playlist-url>",
		Short: "Watch a playlist and queue everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConvertToFLAC = e.app.Settings.Bool("default_convert_to_flac", true) && !noFLAC
			p, res, err := e.app.Watcher.Add(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			e.app.Bulk.Wait()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %q (%s)\n", p.Name, p.ID)
			printRefresh(out, res)
			return nil
		},
	}
	add.Flags().StringVar(&opts.Name, "name", "", "playlist name (default from the platform)")
	add.Flags().DurationVar(&opts.RefreshInterval, "interval", 24*time.Hour, "how often to check for new tracks")
	add.Flags().BoolVar(&opts.MakeM3U, "m3u", false, "keep an M3U of the downloaded tracks")
	add.Flags().BoolVar(&noFLAC, "no-flac", false, "keep the source format")

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched playlists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			playlists, err := e.app.Repo.ListWatched(cmd.Context())
			if err != nil {
				return fmt.Errorf("list watched playlists: %w", err)
			}
			printWatched(cmd.OutOrStdout(), playlists)
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh <playlist-id>",
		Short: "Check a watched playlist now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.app.Watcher.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			e.app.Bulk.Wait()
			printRefresh(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.AddCommand(add, list, refresh)
	return cmd
}

func printRefresh(w io.Writer, r *orchestrator.RefreshResult) {
	fmt.Fprintf(w, "%d tracks, %d new, %d missing, %d queued\n", r.Total, r.New, r.Missing, r.Queued)
	if r.ImportID != "" {
		fmt.Fprintf(w, "Import: %s\n", r.ImportID)
	}
	if r.M3UPath != "" {
		fmt.Fprintf(w, "Playlist file: %s\n", r.M3UPath)
	}
}

func printWatched(w io.Writer, playlists []domain.WatchedPlaylist) {
	if len(playlists) == 0 {
		fmt.Fprintln(w, "No watched playlists")
		return
	}
	fmt.Fprintf(w, "%-36s %-8s %-7s %-20s %s\n", "ID", "TRACKS", "ENABLED", "LAST CHECKED", "NAME")
	for _, p := range playlists {
		checked := "never"
		if p.LastChecked != nil {
			checked = p.LastChecked.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-36s %-8d %-7t %-20s %s\n", p.ID, p.LastTrackCount, p.Enabled, checked, p.Name)
	}
}
