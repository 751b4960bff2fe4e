package key

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dKVcheck/cmd/util"
	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
	"github.com/ValentinKolb/dKVcheck/lib/check/oracle"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// KeyCommands represents the key command group
	KeyCommands = &cobra.Command{
		Use:   "key",
		Short: "Inspect the key mapping of a run",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			if viper.GetInt64("seed") == 0 {
				return fmt.Errorf("a seed is required")
			}
			return nil
		},
	}

	encodeCmd = &cobra.Command{
		Use:   "encode [index]",
		Short: "Prints the key of an index, or the key a thread updates at the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseInt(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			if !keynum.ValidIndex(index) {
				return fmt.Errorf("index %#x out of range [0, %#x)", index, keynum.MaxIndex)
			}

			derive := derivation()
			codec := derive.Codec()

			thread := viper.GetString("thread")
			if thread == "" {
				kn := keynum.IndexToKeynum(index)
				fmt.Printf("keynum:   %#x\n", kn)
				fmt.Printf("key:      %s\n", codec.KeynumToKey(kn))
				fmt.Printf("value:    %s\n", ops.PopulateValue(index))
				return nil
			}

			t, err := parseThread(thread)
			if err != nil {
				return err
			}
			op := derive.ExerciseOp(index, t)
			kn := codec.ExerciseIndexToKeynum(index, t)
			fmt.Printf("keynum:   %#x\n", kn)
			fmt.Printf("key:      %s\n", codec.KeynumToKey(kn))
			fmt.Printf("op:       %s\n", op.Type)
			fmt.Printf("value:    %s\n", op.Value)
			return nil
		},
	}

	decodeCmd = &cobra.Command{
		Use:   "decode [key]",
		Short: "Prints everything a run does to a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			derive := derivation()
			kn := derive.Codec().KeyStringToKeynum(args[0])
			if kn < 0 {
				return fmt.Errorf("%s is not a key of this run", args[0])
			}

			slot := derive.Slot(kn)
			fmt.Printf("keynum:   %#x\n", kn)
			if slot.Populate >= 0 {
				fmt.Printf("populate: index %#x, value %s\n", slot.Populate, slot.Initial())
			} else {
				fmt.Println("populate: -")
			}
			for _, t := range []keynum.Thread{keynum.ThreadA, keynum.ThreadB} {
				op := slot.Op(t)
				if !op.Happens() {
					fmt.Printf("thread %s: -\n", t)
					continue
				}
				fmt.Printf("thread %s: index %#x, %s %s\n", t, op.Index, op.Type, op.Value)
			}
			return nil
		},
	}
)

func init() {
	KeyCommands.PersistentFlags().Int64("seed", 0, util.WrapString("Seed of the run"))
	encodeCmd.Flags().String("thread", "", util.WrapString("Exercise thread (a, b), empty for the populate key"))

	KeyCommands.AddCommand(encodeCmd)
	KeyCommands.AddCommand(decodeCmd)
}

// derivation covers the whole index space, so every key can be inspected
func derivation() *oracle.Derivation {
	return oracle.NewDerivation(viper.GetInt64("seed"), oracle.Bounds{Start: 0, End: keynum.MaxIndex})
}

func parseThread(s string) (keynum.Thread, error) {
	switch strings.ToLower(s) {
	case "a":
		return keynum.ThreadA, nil
	case "b":
		return keynum.ThreadB, nil
	default:
		return 0, fmt.Errorf("invalid thread %s (expected a or b)", s)
	}
}
