package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantrail/fixcore/internal/sessionctx"
)

// errSessionNotFound is returned when a show lookup finds no matching id.
var errSessionNotFound = errors.New("no session found with that id")

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the session-context store",
	}

	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())

	return cmd
}

func openContextsStore() (*sessionctx.Store, error) {
	store, err := sessionctx.Open(sessionctx.Options{
		Path:       cfg.Contexts.Path,
		FileSize:   cfg.Contexts.FileSize,
		SectorSize: cfg.Contexts.SectorSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open contexts store %s: %w", cfg.Contexts.Path, err)
	}

	return store, nil
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known session context",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := openContextsStore()
			if err != nil {
				return err
			}

			defer store.Close()

			out, err := formatSessions(store.Snapshot(), outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show details of one session context",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sessionID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse session id %q: %w", args[0], err)
			}

			store, err := openContextsStore()
			if err != nil {
				return err
			}

			defer store.Close()

			var found *sessionctx.SessionSummary

			for _, s := range store.Snapshot() {
				if s.SessionID == sessionID {
					s := s
					found = &s

					break
				}
			}

			if found == nil {
				return fmt.Errorf("session %d: %w", sessionID, errSessionNotFound)
			}

			var out string

			if outputFormat == formatJSON {
				out, err = formatSessionJSON(*found)
			} else {
				out, err = formatSessionDetail(*found)
			}

			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
