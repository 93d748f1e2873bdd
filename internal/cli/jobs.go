package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

func newJobsCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, inspect or retry download jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := e.app.Jobs.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "max results")

	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := e.app.Jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a finished or failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := e.app.Jobs.Retry(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-queued job %s\n", job.ID)
			return nil
		},
	}

	cmd.AddCommand(list, show, retry)
	return cmd
}

func printJobs(w io.Writer, jobs []domain.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}
	fmt.Fprintf(w, "%-36s %-11s %-21s %-9s %s\n", "ID", "SOURCE", "STATUS", "PROGRESS", "TITLE")
	for _, j := range jobs {
		progress := ""
		if j.DownloadType.IsMultiTrack() && j.TotalTracks > 0 {
			progress = fmt.Sprintf("%d/%d", j.CompletedTracks+j.FailedTracks+j.SkippedTracks, j.TotalTracks)
		}
		title := j.Title
		if j.PlaylistName != "" {
			title = j.PlaylistName
		} else if j.Artist != "" {
			title = j.Artist + " - " + j.Title
		}
		fmt.Fprintf(w, "%-36s %-11s %-21s %-9s %s\n", j.ID, j.Source, j.Status, progress, title)
	}
}

func printJob(w io.Writer, j *domain.Job) {
	fmt.Fprintf(w, "Job: %s\n", j.ID)
	fmt.Fprintf(w, "  Source: %s (%s)\n", j.Source, j.DownloadType)
	fmt.Fprintf(w, "  Status: %s\n", j.Status)
	if j.Artist != "" || j.Title != "" {
		fmt.Fprintf(w, "  Track: %s - %s\n", j.Artist, j.Title)
	}
	if j.PlaylistName != "" {
		fmt.Fprintf(w, "  Playlist: %s\n", j.PlaylistName)
	}
	if j.DownloadType.IsMultiTrack() {
		fmt.Fprintf(w, "  Tracks: %d total, %d completed, %d failed, %d skipped\n",
			j.TotalTracks, j.CompletedTracks, j.FailedTracks, j.SkippedTracks)
	}
	if j.AudioQuality != "" {
		fmt.Fprintf(w, "  Quality: %s\n", j.AudioQuality)
	}
	if j.MetadataSource != "" {
		fmt.Fprintf(w, "  Metadata: %s\n", j.MetadataSource)
	}
	if j.M3UPath != "" {
		fmt.Fprintf(w, "  Playlist file: %s\n", j.M3UPath)
	}
	fmt.Fprintf(w, "  Created: %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", j.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", j.CompletedAt.Sub(j.CreatedAt).Round(time.Second))
	}
	if j.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", j.Error)
	}
}
