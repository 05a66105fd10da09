// protogen init [name]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/protogen-build/protogen/internal/msg"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "protogen"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn initializes a package in an existing specified directory
func initIn(dir, name string) {
	// Protogen.toml
	writefile(`[package]
name = "`+name+`"
description = "This is where I keep my protos."
authors = ["AzureDiamond"]

[proto.`+name+`]
sources = ["protos/**/*.proto"]

[dependencies]
`, dir, "Protogen.toml")

	mkdir(dir, "protos")

	// protos/greeting.proto
	writefile(`syntax = "proto3";

package `+name+`;

message Greeting {
  string text = 1;
}
`, dir, "protos", "greeting.proto")

	// .gitignore
	writefile(`build/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to generate and build, or %s to inspect the protoc invocations.\n",
		color.HiCyanString(programName+" "+dir), color.HiCyanString(programName+" resolve "+dir))
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new package in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0])
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new package in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]))
	},
}

func init() {
	// protogen init subcommand
	rootCmd.AddCommand(initCmd)

	// protogen new subcommand
	rootCmd.AddCommand(newCmd)
}
