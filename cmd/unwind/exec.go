package unwind

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/gostack/dwarfwalk/pkg/proc"
)

var execCmd = &cobra.Command{
	Use:   "exec <prog> [args...]",
	Short: "launch a program under ptrace and print its stack at its first stop after exec",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("exec requires a program path")
		}

		target, err := proc.Launch(args[0], args[1:])
		if err != nil {
			return err
		}

		objects, err := loadMainObject(args[0], target.Pid)
		if err != nil {
			return err
		}

		threads, err := target.Threads()
		if err != nil {
			return err
		}

		walkAndPrint(objects, target, proc.AMD64Arch{}, threads)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
