package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

func newBlacklistCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Block source IDs or uploaders from search results",
	}

	var entry domain.BlacklistEntry
	var src string
	add := &cobra.Command{
		Use:   "add",
		Short: "Block a source ID or an uploader",
		Long: `Block a source ID or an uploader.

A blocked ID never shows up in search results again. A blocked uploader's
results are kept but sink below every other result.

Examples:
  musicgrabber blacklist add --id dQw4w9WgXcQ --reason wrong_song
  musicgrabber blacklist add --uploader "Lyrics Channel" --source youtube`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry.Source = domain.Source(src)
			if src != "" && !entry.Source.Valid() {
				return fmt.Errorf("unknown source %q", src)
			}
			added, err := e.app.Repo.AddBlacklist(cmd.Context(), entry)
			if errors.Is(err, domain.ErrInvalidRequest) {
				return errors.New("one of --id or --uploader is required")
			}
			if err != nil {
				return fmt.Errorf("add blacklist entry: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added blacklist entry %d\n", added.ID)
			return nil
		},
	}
	f := add.Flags()
	f.StringVar(&entry.SourceID, "id", "", "source ID to block")
	f.StringVar(&entry.Uploader, "uploader", "", "uploader or channel to demote")
	f.StringVar(&src, "source", "", "source the uploader belongs to (default youtube)")
	f.StringVar(&entry.Reason, "reason", "", "why it was blocked")
	f.StringVar(&entry.Note, "note", "", "free-form note")

	list := &cobra.Command{
		Use:   "list",
		Short: "List blacklist entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := e.app.Repo.ListBlacklist(cmd.Context())
			if err != nil {
				return fmt.Errorf("list blacklist: %w", err)
			}
			printBlacklist(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <entry-id>",
		Short: "Remove a blacklist entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry ID %q", args[0])
			}
			if err := e.app.Repo.RemoveBlacklist(cmd.Context(), id); err != nil {
				return fmt.Errorf("remove blacklist entry: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed blacklist entry %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func printBlacklist(w io.Writer, entries []domain.BlacklistEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Blacklist is empty")
		return
	}
	fmt.Fprintf(w, "%-5s %-11s %-9s %-30s %s\n", "ID", "SOURCE", "KIND", "VALUE", "REASON")
	for _, e := range entries {
		kind, value := "id", e.SourceID
		if e.SourceID == "" {
			kind, value = "uploader", e.Uploader
		}
		fmt.Fprintf(w, "%-5d %-11s %-9s %-30s %s\n", e.ID, e.Source, kind, clip(value, 30), e.Reason)
	}
}
