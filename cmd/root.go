package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/streamfs/config"
	"github.com/pterodactyl/streamfs/filesystem"
	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/loggers/cli"
	"github.com/pterodactyl/streamfs/system"
)

// app holds what the flags of the root command resolve to, and the
// resources every subcommand shares.
type app struct {
	configPath  string
	debug       bool
	root        string
	showVersion bool

	fs      *filesystem.Filesystem
	logFile *logrotate.File
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}
	command := &cobra.Command{
		Use:           "streamfs",
		Short:         "Stream files in and out of a directory tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), system.Version)
				return nil
			}
			return cmd.Help()
		},
	}

	command.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	command.PersistentFlags().BoolVar(&a.debug, "debug", false, "pass in order to run streamfs in debug mode")
	command.PersistentFlags().StringVar(&a.root, "root", "", "resolve every path beneath this directory")
	command.Flags().BoolVar(&a.showVersion, "version", false, "show the version and exit")

	command.AddCommand(
		newCatCommand(a),
		newPutCommand(a),
		newLsCommand(a),
		newStatCommand(a),
		newRmCommand(a),
		newRmdirCommand(a),
		newMkdirCommand(a),
		newMvCommand(a),
		newLnCommand(a),
		newReadlinkCommand(a),
		newSniffCommand(a),
		newCpCommand(a),
		newDiagnosticsCommand(a),
	)
	return command, a
}

// Execute calls cobra to handle cli commands
func Execute() error {
	return execute(newRootCommand())
}

// execute runs command and releases what its setup acquired, whether the
// command succeeded or not.
func execute(command *cobra.Command, a *app) error {
	err := command.Execute()
	if err != nil {
		log.WithField("error", err).Error("command failed")
	}
	if terr := a.teardown(); err == nil {
		err = terr
	}
	return err
}

// setup loads the configuration, configures logging and opens the
// filesystem the subcommands work on.
func (a *app) setup(cmd *cobra.Command) error {
	p := a.configPath
	if !cmd.Flags().Changed("config") {
		found, err := findConfiguration()
		if err != nil {
			return err
		}
		p = found
	}
	if p == "" {
		c, err := config.NewAtPath("")
		if err != nil {
			return err
		}
		config.Set(c)
	} else if err := config.FromFile(p); err != nil {
		return errors.WrapIfWithDetails(err, "cmd: failed to load configuration", "path", p)
	}

	config.Update(func(c *config.Configuration) {
		if a.debug {
			c.Debug = true
		}
		if cmd.Flags().Changed("root") {
			c.Root = a.root
		}
	})
	c := config.Get()

	if err := a.configureLogging(c.LogDirectory, c.Debug); err != nil {
		return err
	}
	if c.Path() != "" {
		log.WithField("path", c.Path()).Debug("loaded configuration from path")
	}

	mode, err := c.Mode()
	if err != nil {
		return err
	}
	opts := filesystem.Options{
		Workers:    c.Workers,
		ChunkSize:  c.ChunkSize,
		WriteMode:  ufs.FileMode(mode),
		UseOpenat2: c.UseOpenat2,
		Denylist:   c.Denylist,
	}
	if opts.UseOpenat2 {
		if info, err := system.GetSystemInformation(); err == nil && !info.Openat2 {
			log.WithField("kernel", info.KernelVersion).Warn("kernel does not support openat2, falling back to openat")
			opts.UseOpenat2 = false
		}
	}
	if c.Root == "" {
		a.fs = filesystem.Local(opts)
		return nil
	}
	a.fs, err = filesystem.Chroot(c.Root, opts)
	return err
}

func (a *app) teardown() error {
	var err error
	if a.fs != nil {
		err = a.fs.Close()
		a.fs = nil
	}
	if a.logFile != nil {
		log.SetHandler(cli.Default)
		err = errors.Append(err, a.logFile.Close())
		a.logFile = nil
	}
	return err
}

// configureLogging sends log entries to stderr and, when a log directory is
// configured, to a log file that is reopened when it gets rotated.
func (a *app) configureLogging(logDir string, debug bool) error {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	term := cli.New(os.Stderr, true)
	term.Stacktraces = debug
	if logDir == "" {
		log.SetHandler(term)
		return nil
	}

	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return errors.WithStack(err)
	}
	p := filepath.Join(logDir, "streamfs.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.WithMessage(err, "failed to open process log file")
	}
	a.logFile = w

	file := cli.New(w, false)
	file.Stacktraces = true
	log.SetHandler(multi.New(term, file))
	log.WithField("path", p).Debug("writing log files to disk")
	return nil
}
