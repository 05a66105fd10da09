// protogen [path], protogen build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/protogen-build/protogen/internal/builder"
	"github.com/protogen-build/protogen/internal/msg"
)

var (
	flagProfile   string
	flagGenerator EnumValue = NewEnumValue(builder.GeneratorExec, map[string]string{
		builder.GeneratorExec:  "Run generation and compilation directly (default)",
		builder.GeneratorNinja: "Generates build.ninja files",
		builder.GeneratorGraph: "Exports the resolved build graph as JSON",
	})
)

func doBuild(cmd *cobra.Command, args []string) {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.Build(flagProfile, flagGenerator.Value()); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "protogen [package path]",
	Short: "Protobuf build-target configurator",
	Long:  `Wires .proto files into generated-code compilation units: computes the protoc invocation and expected outputs for every source file, then builds them or emits build files for an external executor.`,
	Args:  cobra.MinimumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [package path]",
	Short: "Build the package's proto targets",
	Long:  `Build the package's proto targets. If no package path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// protogen build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagProfile, "profile", "p", "debug", "Compile generated code with the given profile")
	cmd.Flags().VarP(&flagGenerator, "gen", "g", "Generator to build with, one of "+flagGenerator.HelpString())
	cmd.RegisterFlagCompletionFunc("gen", flagGenerator.CompletionFunc())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
