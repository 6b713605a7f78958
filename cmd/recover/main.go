// Run the recovery passes over a database and print what they did.
// The crash modes stop part way, leaving a state the next run must converge from.
// Usage: go run ./cmd/recover --data-dir data --mode undo-crash --log-num 5
package main

import (
	"DaemonStore/cli"
	storageengine "DaemonStore/storage_engine"
	"DaemonStore/types"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	mode   = "normal"
	logNum = -1
)

var modes = map[string]types.RecoveryMode{
	"normal":     types.RecoveryNormal,
	"redo-crash": types.RecoveryRedoCrash,
	"undo-crash": types.RecoveryUndoCrash,
}

func main() {
	root := cli.NewRootCommand("recover", "Run crash recovery over a database")
	root.Args = cobra.NoArgs
	root.RunE = recoverRun

	fs := root.Flags()
	fs.StringVar(&mode, "mode", mode, "recovery mode: normal, redo-crash or undo-crash")
	fs.IntVar(&logNum, "log-num", logNum, "records the crash modes process before stopping")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func recoverRun(cmd *cobra.Command, args []string) error {
	m, ok := modes[strings.ToLower(mode)]
	if !ok {
		return errors.Errorf("unknown recovery mode %q", mode)
	}
	if m != types.RecoveryNormal && logNum < 0 {
		return errors.Errorf("--log-num is required with --mode %s", mode)
	}

	cfg := cli.Config()
	report, err := storageengine.Recover(cfg, m, logNum)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"", ""})
	tw.Append([]string{"mode", report.Mode.String()})
	tw.Append([]string{"clean shutdown", fmt.Sprint(report.CleanShutdown)})
	tw.Append([]string{"winners", fmt.Sprint(report.Winners)})
	tw.Append([]string{"losers", fmt.Sprint(report.Losers)})
	tw.Append([]string{"records scanned", fmt.Sprint(report.Records)})
	tw.Append([]string{"redone", fmt.Sprint(report.Redone)})
	tw.Append([]string{"consider-redo", fmt.Sprint(report.ConsiderRedo)})
	tw.Append([]string{"undone", fmt.Sprint(report.Undone)})
	tw.Append([]string{"rolled back", fmt.Sprint(report.RolledBack)})
	tw.Append([]string{"completed", fmt.Sprint(report.Completed)})
	tw.Render()
	fmt.Printf("trace written to %s\n", cfg.TraceFile)
	return nil
}
