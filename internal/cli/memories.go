package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nidhogg/nuka-memory/internal/memory"
)

func newAddCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Store a memory",
		Long:  "Store a memory for the given scope. Text can be a positional arg or piped via stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			images, _ := cmd.Flags().GetStringSlice("image")
			content := strings.Join(args, " ")
			if content == "" && len(images) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = strings.TrimSpace(string(b))
			}
			if content == "" && len(images) == 0 {
				return fmt.Errorf("text is required (positional arg or stdin)")
			}
			infer, _ := cmd.Flags().GetBool("infer")
			categorize, _ := cmd.Flags().GetBool("categorize")
			role, _ := cmd.Flags().GetString("role")

			body := map[string]any{
				"messages":   []memory.Message{{Role: role, Content: content, Images: images}},
				"infer":      infer,
				"categorize": categorize,
			}
			for k, v := range o.scope() {
				body[k] = v
			}
			return o.call(cmd, http.MethodPost, "/api/memories", nil, body)
		},
	}
	cmd.Flags().Bool("infer", false, "Extract facts with the LLM instead of storing text verbatim")
	cmd.Flags().Bool("categorize", false, "Tag each memory with LLM-assigned categories")
	cmd.Flags().StringSlice("image", nil, "Image URL to describe and store (repeatable)")
	cmd.Flags().String("role", "user", "Message role")
	return cmd
}

func newSearchCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			body := map[string]any{"query": strings.Join(args, " "), "limit": limit}
			for k, v := range o.scope() {
				body[k] = v
			}
			return o.call(cmd, http.MethodPost, "/api/memories/search", nil, body)
		},
	}
	cmd.Flags().IntP("limit", "l", 10, "Max results")
	return cmd
}

func newListCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories of a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			q := o.scope()
			q["limit"] = strconv.Itoa(limit)
			return o.call(cmd, http.MethodGet, "/api/memories", q, nil)
		},
	}
	cmd.Flags().IntP("limit", "l", 100, "Max results")
	return cmd
}

func newGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.call(cmd, http.MethodGet, "/api/memories/"+url.PathEscape(args[0]), nil, nil)
		},
	}
}

func newUpdateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update [id] [text]",
		Short: "Replace the text of a memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"memory": strings.Join(args[1:], " ")}
			return o.call(cmd, http.MethodPut, "/api/memories/"+url.PathEscape(args[0]), nil, body)
		},
	}
}

func newDeleteCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete [id]",
		Aliases: []string{"rm"},
		Short:   "Delete a memory, or every memory of a scope with --all",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all {
				return o.call(cmd, http.MethodDelete, "/api/memories", o.scope(), nil)
			}
			if len(args) != 1 {
				return fmt.Errorf("an id is required unless --all is set")
			}
			return o.call(cmd, http.MethodDelete, "/api/memories/"+url.PathEscape(args[0]), nil, nil)
		},
	}
	cmd.Flags().Bool("all", false, "Delete every memory of the scope")
	return cmd
}

func newHistoryCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history [id]",
		Short: "Show the change history of a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.call(cmd, http.MethodGet, "/api/memories/"+url.PathEscape(args[0])+"/history", nil, nil)
		},
	}
}

func newResetCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every memory, relation and history entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("reset deletes everything; pass --yes to confirm")
			}
			return o.call(cmd, http.MethodPost, "/api/reset", nil, nil)
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm the reset")
	return cmd
}

func (o *options) call(cmd *cobra.Command, method, path string, query map[string]string, body any) error {
	raw, err := newClient(o.server).do(cmd.Context(), method, path, query, body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}
