// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"time"

	"moodtap/internal/audio"
	"moodtap/internal/config"
	applog "moodtap/internal/log"
	"moodtap/internal/session"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListenCommand(v *viper.Viper) *cobra.Command {
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Detect the mood of live audio input",
		Long: `Listen captures audio from an input device and classifies it one segment at
a time. The committed mood only changes once enough consecutive segments
agree. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, v)
		},
	}

	flags := listenCmd.Flags()
	flags.IntP("device", "d", audio.DefaultDeviceID,
		"Specify input device ID. Use the 'devices' command to see available devices.")
	flags.IntP("channels", "c", 0, "Number of channels to capture (1=mono, 2=stereo)")
	flags.Float64P("sample-rate", "s", 0, "Sample rate, measured in Hertz (Hz)")
	flags.IntP("frames-per-buffer", "b", 0, "The number of frames per buffer (affects latency)")
	flags.BoolP("low-latency", "l", false, "Use low latency mode for real-time processing")
	flags.Duration("segment", 0, "Audio aggregated per classification")
	flags.Float64("gate", 0, "Ignore blocks whose peak is below this level (0-1)")
	flags.BoolP("record", "r", false, "Record the input to a WAV file")
	flags.StringP("output", "o", "", "Recording file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")
	flags.Int("bit-depth", 0, "Recording bit depth: 16, 24 or 32")
	flags.Bool("json", false, "Print one JSON object per segment")
	addTransportFlags(flags)
	return listenCmd
}

var listenOverrides = []override{
	intFlag("device", func(c *config.Config) *int { return &c.Audio.InputDevice }),
	intFlag("channels", func(c *config.Config) *int { return &c.Audio.InputChannels }),
	floatFlag("sample-rate", func(c *config.Config) *float64 { return &c.Audio.SampleRate }),
	intFlag("frames-per-buffer", func(c *config.Config) *int { return &c.Audio.FramesPerBuffer }),
	boolFlag("low-latency", func(c *config.Config) *bool { return &c.Audio.LowLatency }),
	durationFlag("segment", func(c *config.Config) *time.Duration { return &c.Mood.Segment }),
	floatFlag("gate", func(c *config.Config) *float64 { return &c.Audio.GateThreshold }),
	boolFlag("record", func(c *config.Config) *bool { return &c.Recording.Enabled }),
	intFlag("bit-depth", func(c *config.Config) *int { return &c.Recording.BitDepth }),
}

func runListen(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v, append(listenOverrides, transportOverrides...)...)
	if err != nil {
		return err
	}

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	capture, err := audio.NewCapture(cfg.CaptureConfig())
	if err != nil {
		return err
	}
	defer capture.Close()

	if err := capture.Start(); err != nil {
		return err
	}

	var recordingPath string
	if cfg.Recording.Enabled {
		recordingPath = v.GetString("output")
		if recordingPath == "" {
			recordingPath = cfg.RecordingPath(time.Now())
		}
		if err := capture.StartRecording(recordingPath, cfg.Recording.BitDepth); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	jsonOut := v.GetBool("json")
	fmt.Fprintf(out, "Listening (segment %s). Press Ctrl+C to stop.\n", cfg.Mood.Segment)

	err = rt.session.Listen(ctx, capture, "live", func(rep session.Report) {
		if jsonOut {
			if err := writeJSON(out, rep, nil, 0); err != nil {
				applog.Warnf("Listen: writing result: %v", err)
			}
			return
		}
		marker := ""
		if rep.Changed {
			marker = "  << mood changed"
		}
		fmt.Fprintf(out, "%s  %-12s %.2f  committed %-12s tempo %.0f%s\n",
			time.Now().Format("15:04:05"), moodLabel(rep.Mood), rep.Confidence,
			moodLabel(rep.Committed), rep.Features.Tempo, marker)
	})

	stats := capture.Stats()
	if cerr := capture.Close(); cerr != nil {
		applog.Warnf("Listen: closing capture: %v", cerr)
	}
	if recordingPath != "" {
		fmt.Fprintf(out, "\nRecording saved to: %s\n", recordingPath)
	}
	applog.WithFields(applog.Fields{
		"blocks":  stats.Blocks,
		"gated":   stats.Gated,
		"dropped": stats.Dropped,
	}).Infof("Listen: capture finished")

	if !jsonOut {
		fmt.Fprintln(out, renderSummary(rt.session.Summary()))
	}
	return err
}
