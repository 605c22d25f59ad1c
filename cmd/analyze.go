// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"moodtap/internal/config"
	applog "moodtap/internal/log"
	"moodtap/internal/source"
	"moodtap/internal/worker"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAnalyzeCommand(v *viper.Viper) *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze [file or directory]...",
		Short: "Detect the mood of audio files",
		Long: `Analyze decodes WAV, MP3 and FLAC files, extracts their audio features and
classifies each into a mood. Directories are searched recursively. Results
for unchanged files are served from the cache.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, v, args)
		},
	}

	flags := analyzeCmd.Flags()
	flags.IntP("workers", "w", 0, "Files analyzed concurrently")
	flags.Int("fft-size", 0, "FFT size, a power of two")
	flags.Int("hop-size", 0, "STFT hop in samples")
	flags.String("window", "", "FFT window function (Hann, Hamming, Blackman, ...)")
	flags.Float64("tempo", 0, "Use this tempo in BPM instead of estimating it")
	flags.String("cache", "", "Cache backend: none, memory, sqlite")
	flags.String("cache-path", "", "SQLite cache database file")
	flags.Bool("json", false, "Print one JSON object per file")
	addTransportFlags(flags)
	return analyzeCmd
}

var analyzeOverrides = []override{
	intFlag("workers", func(c *config.Config) *int { return &c.Workers }),
	intFlag("fft-size", func(c *config.Config) *int { return &c.Analysis.FFTSize }),
	intFlag("hop-size", func(c *config.Config) *int { return &c.Analysis.HopSize }),
	stringFlag("window", func(c *config.Config) *string { return &c.Analysis.Window }),
	floatFlag("tempo", func(c *config.Config) *float64 { return &c.Analysis.Tempo }),
	stringFlag("cache", func(c *config.Config) *string { return &c.Cache.Backend }),
	stringFlag("cache-path", func(c *config.Config) *string { return &c.Cache.Path }),
}

func runAnalyze(cmd *cobra.Command, v *viper.Viper, args []string) error {
	cfg, err := loadConfig(v, append(analyzeOverrides, transportOverrides...)...)
	if err != nil {
		return err
	}

	paths, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported audio files found")
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	jsonOut := v.GetBool("json")
	out := cmd.OutOrStdout()
	rows, failed := analyzeFiles(ctx, rt, paths, cfg.Workers, func(res worker.Result) {
		if !jsonOut {
			return
		}
		rep := res.Report
		rep.Source = res.Job.Path
		if err := writeJSON(out, rep, res.Err, res.Elapsed); err != nil {
			applog.Warnf("Analyze: writing result: %v", err)
		}
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !jsonOut {
		fmt.Fprintln(out, renderTable(rows))
		fmt.Fprintln(out, renderSummary(rt.session.Summary()))
	}
	if failed == len(paths) {
		return fmt.Errorf("all %d files failed", failed)
	}
	return nil
}

// analyzeFiles runs paths through a worker pool and returns one row per file
// and the number of failures. onResult sees results as they complete.
func analyzeFiles(ctx context.Context, rt *runtime, paths []string, workers int, onResult func(worker.Result)) ([]resultRow, int) {
	pool := worker.NewPool(rt.session, len(paths))
	stop := context.AfterFunc(ctx, pool.Cancel)
	defer stop()

	pool.Start(min(workers, len(paths)))
	for i, path := range paths {
		pool.Submit(worker.Job{Index: i, Path: path})
	}
	go pool.Stop()

	rows := make([]resultRow, 0, len(paths))
	failed := 0
	for res := range pool.Results() {
		if res.Err != nil {
			failed++
			applog.Errorf("Analyze: %s: %v", res.Job.Path, res.Err)
		}
		onResult(res)
		rows = append(rows, resultRow{path: res.Job.Path, report: res.Report, err: res.Err})
	}
	return rows, failed
}

// collectFiles expands directories into the supported files they contain.
// Files named explicitly are kept whatever their extension.
func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && source.Supported(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}
