package unwind

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gostack/dwarfwalk/pkg/proc"
)

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "attach to a running process and print its stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("attach requires exactly one pid")
		}
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.New("attach: invalid pid")
		}

		target, err := proc.Attach(pid)
		if err != nil {
			return err
		}
		defer proc.Detach(target)

		exePath := procExePath(pid)
		objects, err := loadMainObject(exePath, pid)
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

// procExePath resolves the /proc/pid/exe symlink to the executable a
// running pid was started from, since attach (unlike exec) is never
// handed the path directly.
func procExePath(pid int) string {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return ""
	}
	return path
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
