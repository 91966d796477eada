package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vigil/internal/config"
	"vigil/internal/video"
)

type processOptions struct {
	TargetFPS int
	JSON      bool
	Timeout   time.Duration
}

var processOpts processOptions

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Run a recorded video through the driver metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, cfg.LogLevel, debugF)

		_, batchMetrics, err := detectorConfigs(cfg)
		if err != nil {
			return fmt.Errorf("detector config: %w", err)
		}
		analyzer, err := newAnalyzer(cfg, logger)
		if err != nil {
			return err
		}
		defer analyzer.Close()

		vcfg := video.DefaultConfig()
		vcfg.MaxUploadBytes = cfg.MaxUploadBytes
		vcfg.MaxDurationSeconds = cfg.MaxVideoSeconds
		vcfg.Timeout = processOpts.Timeout
		vcfg.Grace = cfg.VideoGrace
		vcfg.Workers = 1
		vcfg.Processor.Metrics = batchMetrics
		svc := video.NewService(vcfg, analyzer, video.WithLogger(logger))
		defer svc.Wait()

		return runProcess(cmd, svc, args[0], processOpts)
	},
}

func init() {
	processCmd.Flags().IntVarP(&processOpts.TargetFPS, "target-fps", "f", video.DefaultTargetFPS, "Frames per second to analyze (1-60)")
	processCmd.Flags().BoolVar(&processOpts.JSON, "json", false, "Print the full response as JSON")
	processCmd.Flags().DurationVar(&processOpts.Timeout, "timeout", 10*time.Minute, "Abort the job after this long")
}

func runProcess(cmd *cobra.Command, svc videoProcessor, path string, opts processOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	// Size the bar from the container when ffprobe knows the frame count.
	total := -1
	if info, err := video.Probe(path); err == nil && info.TotalFrames > 0 {
		total = info.TotalFrames
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Analyzing "+filepath.Base(path)),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	resp, err := svc.Process(cmd.Context(), video.Upload{
		Filename:    filepath.Base(path),
		ContentType: "application/octet-stream",
		Size:        st.Size(),
		Body:        f,
		TargetFPS:   opts.TargetFPS,
		Progress:    func(int) { bar.Add(1) },
	})
	bar.Finish()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printSummary(out, resp)
	return nil
}

func printSummary(w io.Writer, resp *video.Response) {
	md := resp.VideoMetadata
	fmt.Fprintf(w, "File:       %s\n", md.Filename)
	if md.DurationSeconds != nil {
		fmt.Fprintf(w, "Duration:   %.1fs\n", *md.DurationSeconds)
	}
	if md.FPS != nil {
		fmt.Fprintf(w, "Native fps: %.2f\n", *md.FPS)
	}
	fmt.Fprintf(w, "Analyzed:   %d frames at %d fps\n", md.ProcessedFrames, md.TargetFPS)

	s := md.Summary
	if s == nil {
		return
	}
	fmt.Fprintf(w, "PERCLOS:    mean %.3f, max %.3f\n", s.PERCLOSMean, s.PERCLOSMax)
	fmt.Fprintf(w, "Yawns:      %d\n", s.YawnCount)

	names := make([]string, 0, len(s.AlertFrames))
	for name := range s.AlertFrames {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.AlertFrames[name] == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-13s %5d frames (%.1f%%)\n", name, s.AlertFrames[name], 100*s.AlertFractions[name])
	}
}
