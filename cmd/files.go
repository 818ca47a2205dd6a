package cmd

import (
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/streamfs/filesystem"
	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// writeTo copies every chunk of source to w, aborting source when w fails.
func writeTo(w io.Writer, source pull.Source[[]byte]) error {
	for {
		chunk, ok, err := pull.Next(source)
		if !ok {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			_ = pull.Abort(source, err)
			return errors.WithStack(err)
		}
	}
}

func parseMode(s string) (*ufs.FileMode, error) {
	if s == "" {
		return nil, nil
	}
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return nil, errors.WrapIfWithDetails(err, "cmd: invalid mode", "mode", s)
	}
	mode := ufs.FileMode(m) & ufs.ModePerm
	return &mode, nil
}

func newCatCommand(a *app) *cobra.Command {
	var start, end int64
	var encoding string
	command := &cobra.Command{
		Use:   "cat PATH",
		Short: "Write the contents of a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if encoding != "" {
				s, err := pull.Await(a.fs.ReadString(args[0], encoding))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), s)
				return nil
			}
			var opts filesystem.ReadOptions
			if cmd.Flags().Changed("start") {
				opts.Start = &start
			}
			if cmd.Flags().Changed("end") {
				opts.End = &end
			}
			return writeTo(cmd.OutOrStdout(), a.fs.ReadStream(args[0], opts))
		},
	}
	command.Flags().Int64Var(&start, "start", 0, "the offset to start reading at")
	command.Flags().Int64Var(&end, "end", 0, "the offset to stop reading at, exclusive")
	command.Flags().StringVar(&encoding, "encoding", "", "print the whole file encoded as utf8, hex or base64")
	return command
}

func newPutCommand(a *app) *cobra.Command {
	var mode, encoding string
	var atomic bool
	command := &cobra.Command{
		Use:   "put PATH",
		Short: "Replace the contents of a file with stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if encoding != "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.WithStack(err)
				}
				s := string(b)
				if encoding == "hex" || encoding == "base64" {
					s = strings.TrimSpace(s)
				}
				_, err = pull.Await(a.fs.WriteString(args[0], s, encoding))
				return err
			}
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			sink := a.fs.WriteStream
			if atomic {
				sink = a.fs.ReplaceStream
			}
			source := pull.Reader(cmd.InOrStdin(), filesystem.DefaultChunkSize)
			return pull.Wait(sink(args[0], filesystem.WriteOptions{Mode: m})(source))
		},
	}
	command.Flags().StringVar(&mode, "mode", "", "the permissions, in octal, a new file is created with")
	command.Flags().StringVar(&encoding, "encoding", "", "decode stdin from utf8, hex or base64 first")
	command.Flags().BoolVar(&atomic, "atomic", false, "write to a temporary file first and rename it over PATH")
	return command
}

func newLsCommand(a *app) *cobra.Command {
	var long bool
	command := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List the entries of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			out := cmd.OutOrStdout()
			source := a.fs.Readdir(dir)
			for {
				name, ok, err := pull.Next(source)
				if !ok {
					return err
				}
				if !long {
					fmt.Fprintln(out, name)
					continue
				}
				st, err := pull.Await(a.fs.Lstat(path.Join(dir, name)))
				if err != nil {
					_ = pull.Abort(source, pull.ErrCancel)
					return err
				}
				fmt.Fprintf(out, "%s %5d %5d %10d %s %s\n", st.FileMode(), st.Uid, st.Gid, st.Size, st.ModTime().Format(time.DateTime), name)
			}
		},
	}
	command.Flags().BoolVarP(&long, "long", "l", false, "describe every entry")
	return command
}

func newStatCommand(a *app) *cobra.Command {
	var asJSON, noFollow bool
	command := &cobra.Command{
		Use:   "stat PATH",
		Short: "Describe a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat := a.fs.Stat
			if noFollow {
				stat = a.fs.Lstat
			}
			st, err := pull.Await(stat(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return errors.WithStack(err)
				}
				fmt.Fprintln(out, string(b))
				return nil
			}
			fmt.Fprintln(out, "  File:", args[0])
			fmt.Fprintln(out, "  Size:", st.Size)
			fmt.Fprintln(out, "  Mode:", st.FileMode())
			fmt.Fprintf(out, "Device: %d Inode: %d\n", st.Dev, st.Ino)
			fmt.Fprintf(out, "   Uid: %d Gid: %d\n", st.Uid, st.Gid)
			fmt.Fprintln(out, "Modify:", st.ModTime().Format(time.RFC3339Nano))
			fmt.Fprintln(out, "Change:", time.Unix(st.Ctime[0], st.Ctime[1]).Format(time.RFC3339Nano))
			return nil
		},
	}
	command.Flags().BoolVar(&asJSON, "json", false, "print the stat record as JSON")
	command.Flags().BoolVarP(&noFollow, "no-dereference", "P", false, "describe a symlink rather than its target")
	return command
}

// eachPath returns a RunE calling op for every argument in turn.
func eachPath(op func(string) pull.Continuable[struct{}]) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for _, p := range args {
			if _, err := pull.Await(op(p)); err != nil {
				return err
			}
		}
		return nil
	}
}

func newRmCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm PATH...",
		Short: "Remove files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachPath(a.fs.Unlink)(cmd, args)
		},
	}
}

func newRmdirCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir PATH...",
		Short: "Remove empty directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachPath(a.fs.Rmdir)(cmd, args)
		},
	}
}

func newMkdirCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PATH...",
		Short: "Create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachPath(a.fs.Mkdir)(cmd, args)
		},
	}
}

func newMvCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv SOURCE DEST",
		Short: "Rename a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := pull.Await(a.fs.Rename(args[0], args[1]))
			return err
		},
	}
}

func newLnCommand(a *app) *cobra.Command {
	var symbolic bool
	command := &cobra.Command{
		Use:   "ln -s TARGET LINK",
		Short: "Create a symbolic link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !symbolic {
				return errors.New("only symbolic links are supported, pass -s")
			}
			_, err := pull.Await(a.fs.Symlink(args[0], args[1]))
			return err
		},
	}
	command.Flags().BoolVarP(&symbolic, "symbolic", "s", false, "make a symbolic link")
	return command
}

func newReadlinkCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "readlink PATH",
		Short: "Print the target of a symbolic link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := pull.Await(a.fs.Readlink(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		},
	}
}

func newSniffCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sniff PATH...",
		Short: "Detect the MIME type of files from their contents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				mime, err := pull.Await(a.fs.Sniff(p))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p, mime)
			}
			return nil
		},
	}
}
