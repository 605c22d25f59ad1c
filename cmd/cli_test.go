// SPDX-License-Identifier: MIT
package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moodtap/internal/mood"
	"moodtap/internal/session"
	"moodtap/pkg/testsignal"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTone(t *testing.T, dir, name string, freq float64) string {
	t.Helper()
	const rate = 44100
	samples := testsignal.Sine(rate, rate, freq, 0.5)

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(math.Round(float64(s) * math.MaxInt16))
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "moodtap")
	assert.Contains(t, out, "commit")
}

func TestAnalyzeJSON(t *testing.T) {
	dir := t.TempDir()
	writeTone(t, dir, "low.wav", 110)
	writeTone(t, dir, "high.wav", 3000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	out, err := execute(t, "analyze", "--json", "--cache", "none", "--workers", "2", dir)
	require.NoError(t, err)

	var lines []reportLine
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var line reportLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line), sc.Text())
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Empty(t, l.Error)
		assert.True(t, l.Mood.Valid())
		assert.Equal(t, moodLabel(l.Mood), l.Label)
		assert.Positive(t, l.Chunks)
		assert.False(t, l.Cached)
		assert.Equal(t, ".wav", filepath.Ext(l.Source))
	}
}

func TestAnalyzeTable(t *testing.T) {
	dir := t.TempDir()
	path := writeTone(t, dir, "tone.wav", 440)

	out, err := execute(t, "analyze", "--cache", "memory", path, path)
	require.NoError(t, err)
	assert.Contains(t, out, "tone.wav")
	assert.Contains(t, out, "Confidence")
	assert.Contains(t, out, "Stable")
	assert.Contains(t, out, "Reports: 2")
}

func TestAnalyzeErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "analyze", dir)
	assert.EqualError(t, err, "no supported audio files found")

	_, err = execute(t, "analyze", filepath.Join(dir, "missing.wav"))
	assert.Error(t, err)

	_, err = execute(t, "analyze", "--fft-size", "1000", writeTone(t, dir, "a.wav", 220))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "power of 2")

	bogus := filepath.Join(dir, "bogus.wav")
	require.NoError(t, os.WriteFile(bogus, []byte("RIFF nonsense"), 0o644))
	_, err = execute(t, "analyze", "--cache", "none", bogus)
	assert.EqualError(t, err, "all 1 files failed")
}

func TestFlagPrecedence(t *testing.T) {
	t.Setenv("MOODTAP_WORKERS", "3")
	t.Setenv("MOODTAP_HOP_SIZE", "256")

	run := func(args ...string) (workers, hop int) {
		v := viper.New()
		c := &cobra.Command{Use: "x", RunE: func(cmd *cobra.Command, _ []string) error { return nil }}
		c.Flags().String("config", "", "")
		c.Flags().String("log-level", "", "")
		c.Flags().Int("workers", 0, "")
		c.Flags().Int("hop-size", 0, "")
		require.NoError(t, c.Flags().Parse(args))
		require.NoError(t, bindFlags(c, v))

		cfg, err := loadConfig(v, analyzeOverrides...)
		require.NoError(t, err)
		return cfg.Workers, cfg.Analysis.HopSize
	}

	workers, hop := run()
	assert.Equal(t, 3, workers, "env beats default")
	assert.Equal(t, 256, hop)

	workers, hop = run("--workers", "6")
	assert.Equal(t, 6, workers, "flag beats env")
	assert.Equal(t, 256, hop)
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(session.Summary{
		ID:           "abc",
		Current:      mood.Melancholic,
		Confidence:   0.81,
		Reports:      4,
		Changes:      2,
		Distribution: map[mood.Mood]int{mood.Melancholic: 3, mood.Relaxed: 1},
	})
	assert.Contains(t, out, "Current mood: Melancholic (0.81)")
	assert.Contains(t, out, "Reports: 4, mood changes: 2")
	assert.Less(t, strings.Index(out, "Melancholic    3"), strings.Index(out, "Relaxed"))
	assert.Contains(t, out, "75.0%")
}
