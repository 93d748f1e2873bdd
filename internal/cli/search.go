package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

func newSearchCmd(e *env) *cobra.Command {
	var (
		src   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search every enabled source",
		Long: `Search every enabled source and print the merged, ranked results.

Examples:
  musicgrabber search "air sexy boy"
  musicgrabber search "air sexy boy" --source soulseek --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			var results []domain.SearchResult
			if src == "" || src == "all" {
				results = e.app.Search.SearchAll(cmd.Context(), query, limit)
			} else {
				var err error
				results, err = e.app.Search.SearchOne(cmd.Context(), domain.Source(src), query, limit)
				if err != nil {
					return err
				}
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVarP(&src, "source", "s", "", "youtube, soundcloud, monochrome, soulseek or all")
	cmd.Flags().IntVarP(&limit, "limit", "n", 15, "max results")
	return cmd
}

func printResults(w io.Writer, results []domain.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	fmt.Fprintf(w, "%-6s %-11s %-9s %-24s %s\n", "SCORE", "SOURCE", "QUALITY", "ARTIST", "TITLE")
	for _, r := range results {
		artist := r.Artist
		if artist == "" {
			artist = r.Channel
		}
		title := r.Title
		if r.IsPlaylist {
			title = fmt.Sprintf("[playlist] %s", title)
		}
		fmt.Fprintf(w, "%-6d %-11s %-9s %-24s %s\n", r.QualityScore, r.Source, r.QualityTier, clip(artist, 24), title)
		fmt.Fprintf(w, "       id: %s\n", resultRef(r))
	}
}

func resultRef(r domain.SearchResult) string {
	switch {
	case r.Source == domain.SourceSoulseek:
		return r.PeerUsername + " " + r.PeerFilename
	case r.SourceURL != "":
		return r.SourceURL
	}
	return r.SourceID
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
