package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime/pprof"

	"github.com/google/uuid"
	plt "github.com/phil-mansfield/pyplot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/phil-mansfield/binscf"
	"github.com/phil-mansfield/binscf/io"
)

const (
	fieldsFile  = "fields.bin"
	summaryFile = "summary.yaml"
	historyFile = "history.txt"
)

// FileGroup contains utility files for logging and writing profiles to.
type FileGroup struct {
	log  *zap.Logger
	prof *os.File
}

func NewFileGroup(con *io.OutputConfig) (*FileGroup, error) {
	fg := &FileGroup{}

	zcon := zap.NewDevelopmentConfig()
	if con.ValidLogFile() {
		zcon = zap.NewProductionConfig()
		zcon.OutputPaths = []string{con.LogFile}
	}
	if con.Verbose {
		zcon.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zcon.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	var err error
	if fg.log, err = zcon.Build(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if con.ValidProfileFile() {
		if fg.prof, err = os.Create(con.ProfileFile); err != nil {
			return nil, err
		}
		if err = pprof.StartCPUProfile(fg.prof); err != nil {
			fg.prof.Close()
			return nil, err
		}
	}

	return fg, nil
}

// Close closes the files inside FileGroup.
func (fg *FileGroup) Close() error {
	_ = fg.log.Sync()
	if fg.prof != nil {
		pprof.StopCPUProfile()
		return fg.prof.Close()
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "binscf",
	Short: "Self-consistent-field equilibria of binary stars",
	Long: `binscf relaxes two rotating polytropes on a cylindrical grid until the
density, potential and rotation rate are consistent with one another.

Start with 'binscf example > run.cfg', edit the file, and run it with
'binscf run run.cfg'.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [config file]",
	Short: "Run an SCF iteration",
	Args:  cobra.ExactArgs(1),
	RunE:  runMain,
}

var checkCmd = &cobra.Command{
	Use:   "check [config file]",
	Short: "Validate a configuration file without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  checkMain,
}

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example configuration file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), io.ExampleConfigFile)
	},
}

var (
	plotColumns []string
	plotTitle   string
)

var plotCmd = &cobra.Command{
	Use:   "plot [history file] [image file]",
	Short: "Plot the residual history of a run",
	Args:  cobra.ExactArgs(2),
	RunE:  plotMain,
}

func init() {
	plotCmd.Flags().StringSliceVar(
		&plotColumns, "column",
		[]string{"res_hmax", "res_mass", "res_c", "res_omega2", "res_potential"},
		"History columns to plot against iteration.",
	)
	plotCmd.Flags().StringVar(&plotTitle, "title", "", "Title of the figure.")

	rootCmd.AddCommand(runCmd, checkCmd, exampleCmd, plotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func checkMain(cmd *cobra.Command, args []string) error {
	con, err := io.ReadConfig(args[0])
	if err != nil {
		return err
	}
	p, err := con.Params()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Grid: %d x %d x %d, symmetry '%s'\n",
		p.NumR, p.NumZ, p.NumPhi, p.Sym)
	fmt.Fprintf(out, "Process grid: %d x %d\n", p.NumRProcs, p.NumZProcs)
	for s, star := range p.Stars {
		fmt.Fprintf(out, "Star %d: n = %g, nc = %g, edges = [%d, %d]\n",
			s+1, star.N, star.NC, star.InnerEdge, star.OuterEdge)
	}
	return nil
}

func runMain(cmd *cobra.Command, args []string) error {
	con, err := io.ReadConfig(args[0])
	if err != nil {
		return err
	}
	p, err := con.Params()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(con.Output.Dir, 0755); err != nil {
		return err
	}

	fg, err := NewFileGroup(&con.Output)
	if err != nil {
		return err
	}
	defer fg.Close()

	id := uuid.New()
	log := fg.log.With(zap.String("run_id", id.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, runErr := binscf.Run(ctx, p, binscf.Options{Logger: log})
	var div *binscf.DivergenceError
	if runErr != nil && !errors.As(runErr, &div) {
		log.Error("SCF run failed", zap.Error(runErr))
		return runErr
	}

	if err := writeOutput(con.Output.Dir, id, res, !con.Output.SkipFields); err != nil {
		return err
	}
	log.Info("wrote output",
		zap.String("dir", con.Output.Dir),
		zap.Stringer("state", res.State),
		zap.Int("iterations", res.Iterations),
	)

	return runErr
}

func writeOutput(dir string, id uuid.UUID, res *binscf.Result, fields bool) error {
	write := func(name string, f func(*os.File) error) error {
		file, err := os.Create(path.Join(dir, name))
		if err != nil {
			return err
		}
		if err := f(file); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	}

	if fields {
		err := write(fieldsFile, func(f *os.File) error {
			return io.WriteFields(f, id, res)
		})
		if err != nil {
			return err
		}
	}
	err := write(summaryFile, func(f *os.File) error {
		return io.WriteSummary(f, id, res)
	})
	if err != nil {
		return err
	}
	return write(historyFile, func(f *os.File) error {
		return io.WriteHistory(f, res.History)
	})
}

func plotMain(cmd *cobra.Command, args []string) error {
	cols, err := io.ReadHistory(args[0])
	if err != nil {
		return err
	}

	iterCol, err := io.HistoryColumn("iter")
	if err != nil {
		return err
	}
	idxs := make([]int, len(plotColumns))
	for i, name := range plotColumns {
		if idxs[i], err = io.HistoryColumn(name); err != nil {
			return err
		}
	}

	plt.Figure()
	for _, idx := range idxs {
		plt.Plot(cols[iterCol], cols[idx], plt.LW(2))
	}
	if plotTitle != "" {
		plt.Title(plotTitle)
	}
	plt.XLabel("Iteration", plt.FontSize(16))
	plt.YLabel("Residual", plt.FontSize(16))
	plt.YScale("log")
	plt.Grid(plt.Axis("y"))
	plt.SaveFig(args[1])
	plt.Execute()

	return nil
}
