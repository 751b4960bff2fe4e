package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dKVcheck/cmd/key"
	"github.com/ValentinKolb/dKVcheck/cmd/phase"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dkvcheck",
		Short: "data check for the dKV key-value store",
		Long: fmt.Sprintf(`dKVcheck (v%s)

Populates a dKV store with deterministic data, updates it with pairs of
racing threads and verifies every value it reads against the values a
correct store could return.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dKVcheck",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dKVcheck v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(phase.RunCmd)
	RootCmd.AddCommand(phase.PopulateCmd)
	RootCmd.AddCommand(phase.ExerciseCmd)
	RootCmd.AddCommand(phase.CheckCmd)
	RootCmd.AddCommand(key.KeyCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
