// protogen protoc -- [wrapper args], the internal protoc wrapper entry point
// build files call back into.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/protogen-build/protogen/internal/builder/protocwrap"
	"github.com/protogen-build/protogen/internal/msg"
)

var (
	flagWrapRoot     string
	flagWrapBuildDir string
)

var protocCmd = &cobra.Command{
	Use:    "protoc -- [args]",
	Short:  "Run a single protoc wrapper invocation",
	Hidden: true,
	Args:   cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := protocwrap.RunInvocation(flagWrapRoot, flagWrapBuildDir, args); err != nil {
			msg.Fatal("%v", err)
		}
	},
}

func init() {
	// protogen protoc subcommand
	rootCmd.AddCommand(protocCmd)
	protocCmd.Flags().StringVar(&flagWrapRoot, "root", ".", "Package source root")
	protocCmd.Flags().StringVar(&flagWrapBuildDir, "build-dir", ".", "Build directory protoc paths are relative to")
}
