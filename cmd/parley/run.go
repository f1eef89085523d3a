package main

import (
	"os"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a conversation in the terminal",
	Long: `Creates a session from a template (or resumes one with --session) and
advances it until it finishes, fails or is paused, then prints the transcript.`,
	Example: `  parley run --template debate --cast moderator=moderator --cast pro=proponent --cast con=opponent
  parley run --session 7f9c2d`,
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		sessionID, _ := cmd.Flags().GetString("session")
		casting, _ := cmd.Flags().GetStringToString("cast")
		topic, _ := cmd.Flags().GetString("topic")
		quiet, _ := cmd.Flags().GetBool("quiet")
		plain, _ := cmd.Flags().GetBool("plain")

		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		interactive := term.IsTerminal(int(os.Stdout.Fd()))
		width := 0
		if interactive {
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				width = w
			}
			if !quiet {
				tui.PrintBanner(cmd.OutOrStdout())
			}
		}

		_, err = cli.RunSession(sc, st, cli.RunOptions{
			SessionID:  sessionID,
			TemplateID: templateID,
			Casting:    casting,
			Topic:      topic,
			Pretty:     interactive && !plain,
			Width:      width,
			Quiet:      quiet,
		}, cmd.OutOrStdout(), st.Logger)
		if err != nil && sc.Signal() != nil {
			// Interrupted: the session keeps its state and can be resumed.
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("template", "t", "", "Template ID to start a new session from")
	runCmd.Flags().StringP("session", "s", "", "Session ID to create or resume")
	runCmd.Flags().StringToString("cast", nil, "Speaker ref to role ID binding (ref=role), repeatable")
	runCmd.Flags().String("topic", "", "Override the template topic")
	runCmd.Flags().BoolP("quiet", "q", false, "Only print the final transcript")
	runCmd.Flags().Bool("plain", false, "Print raw markdown even on a terminal")
}
