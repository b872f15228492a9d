package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leasingborsen/lease-ingest/internal/apply"
	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/session"
	"github.com/leasingborsen/lease-ingest/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and act on extraction sessions",
	Long:  "Commands for listing sessions, reviewing proposed changes, and applying approved changes.",
}

// -- session list --

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "session")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		seller, _ := cmd.Flags().GetString("seller")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{
			SellerID: seller,
			Status:   model.SessionStatus(status),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "session list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionList(os.Stdout, sessions)
		return nil
	},
}

// -- session show --

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its proposed changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "session")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sess, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "session show")
		}
		if sess == nil {
			return eris.Errorf("session %s not found", args[0])
		}

		proposals, err := st.ProposalsBySession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "session show")
		}

		out := struct {
			Session   *model.ExtractionSession `yaml:"session"`
			Proposals []model.ChangeProposal   `yaml:"proposals"`
		}{sess, proposals}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(out)
	},
}

// -- session review --

var sessionReviewCmd = &cobra.Command{
	Use:   "review <session-id>",
	Short: "Approve or reject proposed changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		approve, _ := cmd.Flags().GetStringSlice("approve")
		reject, _ := cmd.Flags().GetStringSlice("reject")
		approveAll, _ := cmd.Flags().GetBool("approve-all")

		if len(approve) == 0 && len(reject) == 0 && !approveAll {
			return eris.New("nothing to do: pass --approve, --reject or --approve-all")
		}

		st, err := openStore(ctx, "session")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if approveAll {
			proposals, err := st.ProposalsBySession(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "session review")
			}
			for _, p := range proposals {
				if p.Status == model.ProposalPending {
					approve = append(approve, p.ID)
				}
			}
		}

		mgr := session.NewManager(st)
		if err := mgr.Review(ctx, args[0], approve, reject); err != nil {
			return err
		}

		fmt.Printf("approved %d, rejected %d\n", len(approve), len(reject))
		return nil
	},
}

// -- session apply --

var sessionApplyCmd = &cobra.Command{
	Use:   "apply <session-id>",
	Short: "Apply approved changes as a batch",
	Long:  "Applies the selected changes to the listings store. Creates run concurrently, updates and deletes sequentially. A failing item is recorded and skipped; the rest of the batch continues.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids, _ := cmd.Flags().GetStringSlice("ids")
		actor, _ := cmd.Flags().GetString("actor")
		if actor == "" {
			actor = cfg.Apply.Actor
		}

		st, err := openStore(ctx, "session")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mgr := session.NewManager(st)
		engine := apply.New(st, mgr, apply.Options{
			ItemTimeout:       time.Duration(cfg.Apply.ItemTimeoutSecs) * time.Second,
			CreateConcurrency: cfg.Apply.CreateConcurrency,
		})

		result, err := engine.Apply(ctx, args[0], ids, actor)
		if err != nil {
			return err
		}

		printApplyResult(os.Stdout, result)
		if len(result.Errors) > 0 {
			cmd.SilenceUsage = true
			return eris.Errorf("apply finished with %d failed changes", len(result.Errors))
		}
		return nil
	},
}

// -- session audit --

var sessionAuditCmd = &cobra.Command{
	Use:   "audit <session-id>",
	Short: "Show the apply audit trail for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "session")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.AuditBySession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "session audit")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No audit entries.")
			return nil
		}

		formatAuditList(os.Stdout, entries)
		return nil
	},
}

func init() {
	sessionListCmd.Flags().String("seller", "", "filter by seller ID")
	sessionListCmd.Flags().String("status", "", "filter by session status (draft, reviewing, applied, partially_applied)")
	sessionListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionReviewCmd.Flags().StringSlice("approve", nil, "change IDs to approve")
	sessionReviewCmd.Flags().StringSlice("reject", nil, "change IDs to reject")
	sessionReviewCmd.Flags().Bool("approve-all", false, "approve every pending change")

	sessionApplyCmd.Flags().StringSlice("ids", nil, "change IDs to apply (default: all approved)")
	sessionApplyCmd.Flags().String("actor", "", "actor recorded in the audit trail (default from config)")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionReviewCmd)
	sessionCmd.AddCommand(sessionApplyCmd)
	sessionCmd.AddCommand(sessionAuditCmd)
	rootCmd.AddCommand(sessionCmd)
}

// formatSessionList writes a tabular list of sessions to w.
func formatSessionList(out io.Writer, sessions []model.ExtractionSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSELLER\tSTATUS\tEXTRACTED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t---------\t-------")

	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncateID(s.ID),
			s.SellerID,
			s.Status,
			s.TotalExtracted,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatAuditList writes the audit trail to w.
func formatAuditList(out io.Writer, entries []store.AuditEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AT\tCHANGE\tACTION\tOUTCOME\tACTOR\tREASON")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Format("2006-01-02 15:04:05"),
			truncateID(e.ChangeID),
			e.Action,
			e.Outcome,
			e.Actor,
			e.Reason,
		)
	}
	_ = w.Flush()
}

// printApplyResult writes the apply outcome to w.
func printApplyResult(out io.Writer, r *apply.Result) {
	fmt.Fprintf(out, "Applied %d creates, %d updates, %d deletes\n",
		r.AppliedCreates, r.AppliedUpdates, r.AppliedDeletes)
	if r.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d already-settled changes\n", r.Skipped)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "FAILED %s: %s\n", truncateID(e.ChangeID), e.Reason)
	}
	fmt.Fprintf(out, "Session status: %s\n", r.SessionStatus)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
