package cmd

import (
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pterodactyl/streamfs/config"
	"github.com/pterodactyl/streamfs/filesystem"
	"github.com/pterodactyl/streamfs/internal/progress"
	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

func newCpCommand(a *app) *cobra.Command {
	var mode string
	var rateLimit int64
	var showProgress bool
	command := &cobra.Command{
		Use:   "cp SOURCE... DEST",
		Short: "Copy files",
		Long: "Copy SOURCE to DEST, or every SOURCE into the directory DEST. Several files\n" +
			"are copied in parallel.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			opts := filesystem.CopyOptions{Mode: m, RateLimit: config.Get().RateLimit}
			if cmd.Flags().Changed("rate-limit") {
				opts.RateLimit = rateLimit
			}
			pairs, err := copyPairs(a.fs, args[:len(args)-1], args[len(args)-1])
			if err != nil {
				return err
			}
			var out io.Writer
			if showProgress {
				out = cmd.ErrOrStderr()
			}
			return copyAll(a.fs, pairs, opts, config.Get().Workers, out)
		},
	}
	command.Flags().StringVar(&mode, "mode", "", "the permissions, in octal, new files are created with")
	command.Flags().Int64Var(&rateLimit, "rate-limit", 0, "the maximum number of bytes per second for each copy, 0 for no limit")
	command.Flags().BoolVarP(&showProgress, "progress", "p", false, "report how much of every file was copied")
	return command
}

type copyPair struct {
	src, dst string
}

// progressInterval is how often a running copy reports its progress.
var progressInterval = time.Second

// copyPairs resolves where every source ends up. A single source is copied
// to dst unless dst is a directory; several sources need dst to be one.
func copyPairs(fs *filesystem.Filesystem, sources []string, dst string) ([]copyPair, error) {
	st, err := pull.Await(fs.Stat(dst))
	if err != nil && !errors.Is(err, ufs.ErrNotExist) {
		return nil, errors.WrapIfWithDetails(err, "cmd: failed to stat destination", "dest", dst)
	}
	isDir := err == nil && st.IsDir()
	if len(sources) > 1 && !isDir {
		return nil, errors.WithDetails(errors.New("cmd: copying several files needs a directory as destination"), "dest", dst)
	}

	pairs := make([]copyPair, len(sources))
	for i, src := range sources {
		pairs[i] = copyPair{src: src, dst: dst}
		if isDir {
			pairs[i].dst = path.Join(dst, path.Base(src))
		}
	}
	return pairs, nil
}

// copyAll runs the copies, at most limit at a time, and returns the first
// error any of them reported. With a non-nil out every copy writes a
// progress line to it each progressInterval and once more when it is done.
func copyAll(fs *filesystem.Filesystem, pairs []copyPair, opts filesystem.CopyOptions, limit int, out io.Writer) error {
	var g errgroup.Group
	var mu sync.Mutex
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, p := range pairs {
		p := p
		opts := opts
		g.Go(func() error {
			if out != nil {
				var total uint64
				if st, err := pull.Await(fs.Stat(p.src)); err == nil {
					total = uint64(st.Size)
				}
				opts.Progress = progress.NewProgress(total)

				ticker := time.NewTicker(progressInterval)
				stop := make(chan struct{})
				reported := make(chan struct{})
				go func() {
					reportProgress(out, &mu, opts.Progress, p.dst, ticker.C, stop)
					close(reported)
				}()
				defer func() {
					ticker.Stop()
					close(stop)
					<-reported
				}()
			}
			if _, err := pull.Await(fs.Copy(p.src, p.dst, opts)); err != nil {
				return errors.WrapIfWithDetails(err, "cmd: copy failed", "source", p.src, "dest", p.dst)
			}
			log.WithField("source", p.src).WithField("dest", p.dst).Debug("copied file")
			return nil
		})
	}
	return g.Wait()
}

// reportProgress writes a line for p on every tick and a last one when stop
// is closed. mu serializes the lines of copies running side by side.
func reportProgress(out io.Writer, mu sync.Locker, p *progress.Progress, dst string, tick <-chan time.Time, stop <-chan struct{}) {
	line := func() {
		mu.Lock()
		fmt.Fprintf(out, "%s %s\n", p.Progress(25), dst)
		mu.Unlock()
	}
	for {
		select {
		case <-tick:
			line()
		case <-stop:
			line()
			return
		}
	}
}
