// Package unwind is the example CLI driving pkg/proc: exec a program,
// attach to a running one, or load a core file, then print every
// thread's reconstructed call stack.
package unwind

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gostack/dwarfwalk/pkg/dwarf/op"
	"github.com/gostack/dwarfwalk/pkg/proc"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "unwind",
	Short: "reconstruct a Go process's call stacks from CFI, live or post-mortem",
}

// Execute runs the root command; main.go's sole entry point into this
// package (the generalization of the teacher's cmd.Execute).
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.unwind.yaml)")
	rootCmd.PersistentFlags().Int("max-frames", 1024, "maximum stack depth to unwind")
	viper.BindPFlag("max-frames", rootCmd.PersistentFlags().Lookup("max-frames"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".unwind")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("loaded config file")
	}
}

func maxFrames() int {
	if n := viper.GetInt("max-frames"); n > 0 {
		return n
	}
	return 1024
}

// printFrames renders one thread's unwound call stack, one
// `#<n> 0xADDR in func (args) [signal]` line per frame, adapted from
// the teacher's cmd/debug/backtrace.go: the function name ("???" when
// unresolved), formatArguments' list when there is one, and a
// " [signal]" marker on signal frames. No offset within the function
// and no file:line is printed.
func printFrames(tid int, frames []proc.Frame) {
	fmt.Printf("goroutine/thread %d:\n", tid)
	for i, f := range frames {
		name := "???"
		if f.Func != nil {
			name = f.Func.Name()
		}
		sig := ""
		if f.IsSignalFrame {
			sig = " [signal]"
		}
		fmt.Printf("  #%-2d %#016x in %s%s%s\n", i, f.PC, name, formatArguments(f), sig)
	}
}

// formatArguments renders a frame's resolved argument locations as a
// parenthesized "name=..." list, the way cmd/debug/backtrace.go's
// teacher equivalent appends argument names to a frame line. It prints
// the raw address/register/value the expression evaluator produced;
// type-directed formatting of what that location actually holds is out
// of scope.
func formatArguments(f proc.Frame) string {
	args, err := f.Arguments()
	if err != nil || len(args) == 0 {
		return ""
	}
	out := " ("
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		switch a.Result.Kind {
		case op.ResultRegister:
			out += fmt.Sprintf("%s=reg%d", a.Name, a.Result.Reg)
		case op.ResultValue:
			out += fmt.Sprintf("%s=%#x", a.Name, a.Result.Value)
		default:
			out += fmt.Sprintf("%s@%#x", a.Name, a.Result.Value)
		}
	}
	return out + ")"
}

func walkAndPrint(objects *proc.ObjectRegistry, mem proc.MemoryReadWriter, arch proc.Arch, threads []proc.ThreadInfo) {
	w := proc.NewStackWalker(objects, mem, arch)
	w.MaxFrames = maxFrames()
	for _, th := range threads {
		frames := w.Unwind(th.Regs)
		printFrames(th.Tid, frames)
	}
}

func loadMainObject(path string, pid int) (*proc.ObjectRegistry, error) {
	_ = pid // the main executable is registered with a load bias of 0, so
	// its file-relative addresses are taken as runtime addresses, which
	// holds for a non-PIE debuggee; /proc/pid/maps is not read.
	obj, err := proc.OpenObject(path, 0)
	if err != nil {
		return nil, err
	}
	return proc.NewObjectRegistry(obj), nil
}
