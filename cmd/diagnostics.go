package cmd

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pterodactyl/streamfs/config"
	"github.com/pterodactyl/streamfs/filesystem"
	"github.com/pterodactyl/streamfs/pull"
	"github.com/pterodactyl/streamfs/system"
)

const DefaultLogLines = 200

func newDiagnosticsCommand(a *app) *cobra.Command {
	var logLines int
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this streamfs installation to assist in debugging.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return diagnosticsCmdRun(cmd.OutOrStdout(), logLines)
		},
	}
	command.Flags().IntVar(&logLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")
	return command
}

// diagnosticsCmdRun collects diagnostics about streamfs, its configuration
// and the machine it runs on.
func diagnosticsCmdRun(w io.Writer, logLines int) error {
	output := &strings.Builder{}
	fmt.Fprintln(output, "streamfs - Diagnostics Report")

	printHeader(output, "Versions")
	fmt.Fprintln(output, "            streamfs:", system.Version)
	if info, err := system.GetSystemInformation(); err == nil {
		fmt.Fprintln(output, "              Kernel:", info.KernelVersion)
		fmt.Fprintln(output, "                  OS:", info.OS, info.Architecture)
		fmt.Fprintln(output, "                CPUs:", info.CpuCount)
		fmt.Fprintln(output, "     openat2 Support:", info.Openat2)
	} else {
		fmt.Fprintln(output, "Couldn't describe the system:", err)
	}

	cfg := config.Get()
	printHeader(output, "Configuration")
	fmt.Fprintln(output, "  Configuration File:", orNone(cfg.Path()))
	fmt.Fprintln(output, "      Root Directory:", orNone(cfg.Root))
	fmt.Fprintln(output, "         Use openat2:", cfg.UseOpenat2)
	fmt.Fprintln(output, "          Chunk Size:", cfg.ChunkSize)
	fmt.Fprintln(output, "             Workers:", cfg.Workers)
	fmt.Fprintln(output, "          Write Mode:", cfg.WriteMode)
	fmt.Fprintln(output, "          Rate Limit:", cfg.RateLimit)
	fmt.Fprintln(output, "   Denylist Patterns:", len(cfg.Denylist))
	fmt.Fprintln(output, "      Logs Directory:", orNone(cfg.LogDirectory))
	fmt.Fprintln(output, "         Server Time:", time.Now().Format(time.RFC1123Z))
	fmt.Fprintln(output, "          Debug Mode:", cfg.Debug)

	printHeader(output, "Latest Logs")
	if cfg.LogDirectory == "" {
		fmt.Fprintln(output, "Logs are not written to disk.")
	} else if lines, err := tailFile(filepath.Join(cfg.LogDirectory, "streamfs.log"), logLines); err != nil {
		fmt.Fprintln(output, "No logs found or an error occurred.")
	} else {
		fmt.Fprintln(output, lines)
	}

	fmt.Fprintln(w, "\n---------------  generated report  ---------------")
	fmt.Fprintln(w, output.String())
	fmt.Fprint(w, "---------------   end of report    ---------------\n\n")
	return nil
}

// tailFile returns the last n lines of the file at p. Only the end of the
// file is read, looking back a generous amount per line.
func tailFile(p string, n int) (string, error) {
	fs := filesystem.Local(filesystem.Options{Executor: pull.Go})
	defer fs.Close()

	st, err := pull.Await(fs.Stat(p))
	if err != nil {
		return "", err
	}
	start := st.Size - int64(n)*512
	if start < 0 {
		start = 0
	}
	b, err := pull.Await(pull.Concat(fs.ReadStream(p, filesystem.ReadOptions{Start: &start})))
	if err != nil {
		return "", err
	}
	lines := bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n"))), nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, "\n|\n|", title)
	fmt.Fprintln(w, "| ------------------------------")
}
