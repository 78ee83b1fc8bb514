// Package cli implements the memctl commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	server  string
	userID  string
	agentID string
	runID   string
}

// NewRootCmd builds the memctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "memctl",
		Short:         "Manage a Nuka Memory server",
		Long:          "Validate memory configs offline and add, search and edit memories on a running server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.server, "server", "s", defaultServer(), "Server URL (default: $NUKA_MEMORY_URL or http://localhost:3210)")
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", "", "User scope")
	root.PersistentFlags().StringVar(&opts.agentID, "agent", "", "Agent scope")
	root.PersistentFlags().StringVar(&opts.runID, "run", "", "Run scope")

	root.AddCommand(
		newValidateCmd(),
		newAddCmd(opts),
		newSearchCmd(opts),
		newListCmd(opts),
		newGetCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
	)
	return root
}

func defaultServer() string {
	if env := os.Getenv("NUKA_MEMORY_URL"); env != "" {
		return env
	}
	return "http://localhost:3210"
}

func (o *options) scope() map[string]string {
	s := map[string]string{}
	if o.userID != "" {
		s["userId"] = o.userID
	}
	if o.agentID != "" {
		s["agentId"] = o.agentID
	}
	if o.runID != "" {
		s["runId"] = o.runID
	}
	return s
}

// printJSON writes raw JSON indented to w.
func printJSON(w io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	_, err := fmt.Fprintln(w, string(b))
	return err
}
