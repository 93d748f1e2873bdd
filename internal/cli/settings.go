package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/settings"
)

func newSettingsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change runtime settings",
	}

	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Show one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, entry := range e.app.Settings.Entries() {
				if len(args) == 1 && entry.Key != args[0] {
					continue
				}
				suffix := ""
				if entry.EnvOverride {
					suffix = "  (from environment)"
				}
				fmt.Fprintf(out, "%s = %s%s\n", entry.Key, entry.Value, suffix)
				if len(args) == 1 {
					return nil
				}
			}
			if len(args) == 1 {
				return fmt.Errorf("unknown setting %q", args[0])
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := e.app.Settings.Set(cmd.Context(), key, value); err != nil {
				return err
			}
			if key == "youtube_cookies" {
				if err := e.app.YTDLP.SyncCookies(); err != nil {
					return fmt.Errorf("write cookie file: %w", err)
				}
			}
			shown := value
			if settings.Sensitive(key) && value != "" {
				shown = "********"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, shown)
			return nil
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}
