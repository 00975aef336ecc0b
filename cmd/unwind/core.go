package unwind

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/gostack/dwarfwalk/pkg/proc"
)

var coreCmd = &cobra.Command{
	Use:   "core <executable> <corefile>",
	Short: "load an ELF core dump and print its stacks post-mortem",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return errors.New("core requires an executable path and a core file path")
		}
		exePath, corePath := args[0], args[1]

		cr, err := proc.OpenCore(corePath)
		if err != nil {
			return err
		}
		defer cr.Close()

		objects, err := loadMainObject(exePath, 0)
		if err != nil {
			return err
		}

		threads, err := cr.Threads()
		if err != nil {
			return err
		}

		walkAndPrint(objects, cr, proc.AMD64Arch{}, threads)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(coreCmd)
}
