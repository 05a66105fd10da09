// protogen resolve [path]
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/protogen-build/protogen/internal/builder"
	"github.com/protogen-build/protogen/internal/builder/resolve"
	"github.com/protogen-build/protogen/internal/msg"
)

var flagResolveTarget string

// resolvedTarget is the JSON shape `protogen resolve` prints per target.
type resolvedTarget struct {
	Gen  *resolve.Plan `json:"gen"`
	Unit *resolve.Unit `json:"unit"`
}

func doResolve(cmd *cobra.Command, args []string) {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target)
	if err != nil {
		msg.Fatal("%v", err)
	}

	names := b.Config().TargetNames()
	if flagResolveTarget != "" {
		names = []string{flagResolveTarget}
	}

	out := make(map[string]resolvedTarget, len(names))
	for _, name := range names {
		plan, unit, err := b.ResolveTarget(name)
		if err != nil {
			msg.Fatal("%v", err)
		}
		out[name] = resolvedTarget{Gen: plan, Unit: unit}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [package path]",
	Short: "Print the protoc invocations and compile units for the package's proto targets",
	Long:  `Resolve every proto target into its generation plan (per-source protoc wrapper invocations and declared outputs) and compile unit, and print them as JSON without building anything.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doResolve,
}

func init() {
	// protogen resolve subcommand
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVarP(&flagResolveTarget, "target", "t", "", "Resolve only the named proto target")
}
