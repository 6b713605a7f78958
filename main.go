package main

import (
	"DaemonStore/cli"
	storageengine "DaemonStore/storage_engine"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const historyFile = ".daemonstore_history"

func main() {
	root := cli.NewRootCommand("daemonstore", "Interactive shell over a DaemonStore database")
	root.RunE = shellRun
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func shellRun(cmd *cobra.Command, args []string) error {
	cfg := cli.Config()
	se, err := storageengine.Open(cfg)
	if err != nil {
		return err
	}
	defer se.Shutdown()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	history := filepath.Join(cfg.DataDir, historyFile)
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	shell := cli.NewShell(se, os.Stdout)
	fmt.Println("DaemonStore shell, type help for commands")
	// REPL
	for {
		input, err := line.Prompt("db> ")
		if err == io.EOF || err == liner.ErrPromptAborted { // Ctrl+D / Ctrl+C
			break
		}
		if err != nil {
			return err
		}
		line.AppendHistory(input)

		err = shell.Exec(input)
		if errors.Is(err, cli.ErrQuit) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	if f, err := os.Create(history); err != nil {
		fmt.Fprintf(os.Stderr, "daemonstore: error writing history file, %s: %s\n", history, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}
