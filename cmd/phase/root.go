package phase

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/dKVcheck/cmd/util"
	"github.com/ValentinKolb/dKVcheck/lib/check/harness"
	"github.com/ValentinKolb/dKVcheck/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	log = logger.GetLogger("cmd")

	// RunCmd runs all phases of a data check
	RunCmd = newPhaseCmd("run", "Populate, exercise and check a store", (*harness.Harness).Run)
	// PopulateCmd runs the populate phase
	PopulateCmd = newPhaseCmd("populate", "Write the initial data of a check run", (*harness.Harness).Populate)
	// ExerciseCmd runs the exercise phase
	ExerciseCmd = newPhaseCmd("exercise", "Update a populated store with racing thread pairs", (*harness.Harness).Exercise)
	// CheckCmd runs the check phase
	CheckCmd = newPhaseCmd("check", "Verify the content of a populated or exercised store", (*harness.Harness).Check)
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range []*cobra.Command{RunCmd, PopulateCmd, ExerciseCmd, CheckCmd} {
		util.SetupStoreFlags(cmd)
		util.SetupCheckFlags(cmd)
		cmd.PersistentFlags().String("log-level", "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	}
}

func newPhaseCmd(use, short string, phase func(*harness.Harness, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The configuration can be set via command line flags or environment variables.
The format of the environment variables is DKVCHECK_<flag> (e.g. DKVCHECK_MAX_LAG=100).`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, phase)
		},
	}
}

// runPhase opens the store, runs phase and prints the summary of the run
func runPhase(cmd *cobra.Command, phase func(*harness.Harness, context.Context) error) error {
	checkConf := util.GetCheckConfig()
	storeConf, err := util.GetStoreConfig()
	if err != nil {
		return err
	}
	if err := common.InitLoggers(checkConf.LogLevel); err != nil {
		return err
	}
	log.Infof("configuration:%s%s", storeConf, &checkConf)

	s, closeStore, err := util.OpenStore(storeConf)
	if err != nil {
		return err
	}
	defer closeStore()

	h, err := harness.New(s, checkConf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if checkConf.StatusEndpoint != "" {
		go func() {
			if err := h.ServeStatus(ctx, checkConf.StatusEndpoint); err != nil {
				log.Errorf("status endpoint failed: %v", err)
			}
		}()
	}

	// silence the usage output, a failed run is not a usage error
	cmd.SilenceUsage = true

	err = phase(h, ctx)
	fmt.Printf("\nSeed: %#x\n%s", uint64(h.Seed()), h.Stats().Snapshot())
	if messages, dropped := h.Stats().Messages(); len(messages) > 0 {
		fmt.Println("Unexpected results:")
		for _, msg := range messages {
			fmt.Printf("  %s\n", msg)
		}
		if dropped > 0 {
			fmt.Printf("  ... and %d more\n", dropped)
		}
	}
	return err
}
