package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `List, inspect, control and remove sessions in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.Engine.Sessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTEMPLATE\tSTATUS\tROUND\tUPDATED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.TemplateID, s.Status, s.Round, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := st.Engine.Session(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", args[0], err)
		}
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionTranscriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Print the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		s, err := st.Engine.Session(ctx, args[0])
		if err != nil {
			return err
		}
		msgs, err := st.Engine.Transcript(ctx, args[0])
		if err != nil {
			return err
		}

		doc := tui.Markdown(s, msgs)
		if plain, _ := cmd.Flags().GetBool("plain"); !plain && term.IsTerminal(int(os.Stdout.Fd())) {
			if rendered, err := tui.NewRenderer(0)(doc); err == nil {
				doc = rendered
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	},
}

var sessionGraphCmd = &cobra.Command{
	Use:   "graph <session-id>",
	Short: "Export the session's flow as a Mermaid diagram with its progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := st.Engine.Session(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(s.Steps, overlayFor(s)))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		var failed int
		for _, id := range args {
			if err := st.Engine.Delete(cmd.Context(), id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d session(s) could not be removed", failed)
		}
		return nil
	},
}

// controlCommand builds the pause, resume, terminate and advance subcommands.
func controlCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := loadStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, id := cmd.Context(), args[0]
			var s *domain.Session
			switch use {
			case "pause":
				s, err = st.Engine.Pause(ctx, id)
			case "resume":
				s, err = st.Engine.Resume(ctx, id)
			case "terminate":
				s, err = st.Engine.Terminate(ctx, id)
			case "advance":
				var res *domain.AdvanceResult
				res, err = st.Engine.Advance(ctx, id)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", res.Message.Content)
					s = res.Session
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session '%s' is %s (round %d)\n", s.ID, s.Status, s.Round)
			return nil
		},
	}
}

// overlayFor marks the steps a session has already run and where it stands.
func overlayFor(s *domain.Session) *graph.GraphOverlay {
	overlay := &graph.GraphOverlay{Finished: s.Pointer == domain.EndOfFlow}
	for order, n := range s.LoopCounters {
		if n > 0 {
			overlay.VisitedSteps = append(overlay.VisitedSteps, order)
		}
	}
	sort.Ints(overlay.VisitedSteps)
	if s.Pointer >= 0 && s.Pointer < len(s.Steps) {
		overlay.CurrentStep = s.Steps[s.Pointer].Order
	}
	return overlay
}

func init() {
	rootCmd.AddCommand(sessionCmd)

	sessionTranscriptCmd.Flags().Bool("plain", false, "Print raw markdown even on a terminal")

	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionTranscriptCmd)
	sessionCmd.AddCommand(sessionGraphCmd)
	sessionCmd.AddCommand(sessionRmCmd)
	sessionCmd.AddCommand(controlCommand("advance", "Execute the next step of a session"))
	sessionCmd.AddCommand(controlCommand("pause", "Pause a running session"))
	sessionCmd.AddCommand(controlCommand("resume", "Resume a paused session"))
	sessionCmd.AddCommand(controlCommand("terminate", "Stop a session for good"))
}
