package cli

import (
	"DaemonStore/config"
	"DaemonStore/logger"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

/*
Shared cobra root for the shell and the harness binaries.

	PersistentPreRunE
	    -> load config file (or defaults for --data-dir)
	    -> flags given on the command line win over the file
	    -> logger.Init
	RunE
	    -> Config() hands the result to the command
	PersistentPostRun
	    -> close the log file
*/

var (
	logFile   = ""
	logLevel  = "info"
	logStderr = false
	logWriter io.Closer

	configFile   = "daemonstore.hcl"
	noConfig     = false
	dataDir      = "."
	bufferFrames = config.DefaultFrames

	usedFlags = map[string]struct{}{}
	loaded    config.Config
)

// NewRootCommand returns a root command carrying the common flags. Config is valid
// inside RunE of the command and of its subcommands.
func NewRootCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:               use,
		Short:             short,
		SilenceUsage:      true,
		PersistentPreRunE: preRun,
		PersistentPostRun: postRun,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	fs.StringVar(&dataDir, "data-dir", dataDir, "database `directory` when no config file is loaded")
	fs.IntVar(&bufferFrames, "buffer-frames", bufferFrames, "buffer pool size in pages")
	return cmd
}

// Config returns the configuration assembled by the pre-run hook
func Config() config.Config { return loaded }

func used(name string) bool {
	_, ok := usedFlags[name]
	return ok
}

func preRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("%s: %s", cmd.Root().Name(), err)
	}
	if used("buffer-frames") {
		cfg.BufferFrames = bufferFrames
	}
	if used("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	if used("log-file") {
		cfg.LogOutput = logFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %s", cmd.Root().Name(), err)
	}

	logWriter, err = logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		File:   cfg.LogOutput,
		Stderr: logStderr,
	})
	if err != nil {
		return fmt.Errorf("%s: %s", cmd.Root().Name(), err)
	}
	loaded = cfg

	logger.L().WithField("pid", os.Getpid()).Info(cmd.Root().Name() + " starting")
	return nil
}

func postRun(cmd *cobra.Command, args []string) {
	logger.L().WithField("pid", os.Getpid()).Info(cmd.Root().Name() + " done")

	if logWriter != nil {
		logWriter.Close()
	}
}

// loadConfig reads the config file; a missing default file falls back to --data-dir
func loadConfig() (config.Config, error) {
	if configFile == "" || noConfig {
		return config.Default(dataDir), nil
	}
	cfg, err := config.Load(configFile)
	if os.IsNotExist(errors.Cause(err)) && !used("config-file") {
		return config.Default(dataDir), nil
	}
	return cfg, err
}
