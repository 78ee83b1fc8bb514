package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/registry"
	"github.com/nidhogg/nuka-memory/internal/resolver"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a memory config file",
		Long: "Check a memory config against the schema without contacting the server. " +
			"With --resolve, also construct every provider it names.",
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
	cmd.Flags().StringP("config", "c", "configs/memory.json", "Config file to validate")
	cmd.Flags().Bool("resolve", false, "Construct providers after validation")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if len(args) > 0 {
		path = args[0]
	}
	resolve, _ := cmd.Flags().GetBool("resolve")
	out := cmd.OutOrStdout()

	raw, err := config.LoadRaw(path)
	if err != nil {
		return err
	}

	if resolve {
		res, err := resolver.New(registry.Default(), zap.NewNop()).Resolve(raw)
		if err != nil {
			return reportInvalid(cmd, err)
		}
		res.Close()
	} else if _, err := config.Parse(raw); err != nil {
		return reportInvalid(cmd, err)
	}

	fmt.Fprintf(out, "%s: valid\n", path)
	return nil
}

func reportInvalid(cmd *cobra.Command, err error) error {
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for _, fe := range ve.Fields {
		fmt.Fprintln(cmd.OutOrStdout(), fe.String())
	}
	return fmt.Errorf("config has %d invalid field(s)", len(ve.Fields))
}
