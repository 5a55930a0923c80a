// Command vadtrim trims a WAV recording down to its spoken parts with the
// same segmenter the bot runs on /ecoute.
//
// Usage:
//
//	vadtrim [-rate 48000] [-frame 20] [-padding 300] [-ratio 0.3] [-aggressiveness 1] [-out dir] input.wav
//
// It prints the path of the trimmed file. When the recording holds no speech
// it prints "no speech detected" and exits with status 2.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/segment"
	"github.com/MrWong99/murmur/pkg/provider/vad"
	"github.com/MrWong99/murmur/pkg/provider/vad/energy"
)

const exitNoSpeech = 2

func main() {
	os.Exit(run(os.Args[1:]))
}

// options holds the parsed command line.
type options struct {
	rate, frame, padding int
	ratio                float64
	aggressiveness       int
	out                  string
	verbose              bool
}

func newFlagSet() (*flag.FlagSet, *options) {
	o := &options{}
	fs := flag.NewFlagSet("vadtrim", flag.ContinueOnError)
	fs.IntVar(&o.rate, "rate", config.DefaultSampleRate, "expected sample rate in Hz (8000, 16000, 32000 or 48000)")
	fs.IntVar(&o.frame, "frame", config.DefaultFrameDurationMs, "frame duration in ms (10, 20 or 30)")
	fs.IntVar(&o.padding, "padding", config.DefaultPaddingDurationMs, "padding kept around speech, in ms")
	fs.Float64Var(&o.ratio, "ratio", config.DefaultVoicedRatio, "a segment ends once voiced frames in the padding window fall below this share of it; one speech frame starts a segment")
	fs.IntVar(&o.aggressiveness, "aggressiveness", config.DefaultAggressiveness, "classifier aggressiveness, 0 to 3")
	fs.StringVar(&o.out, "out", "", "output directory (default: next to the input)")
	fs.BoolVar(&o.verbose, "v", false, "log segmentation details")
	return fs, o
}

func run(args []string) int {
	fs, opts := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vadtrim [flags] input.wav")
		fs.PrintDefaults()
		return 1
	}
	input := fs.Arg(0)

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	classifier, err := energy.New(vad.Config{Aggressiveness: opts.aggressiveness})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vadtrim: %v\n", err)
		return 1
	}
	seg, err := segment.New(segment.Config{
		SampleRate:        opts.rate,
		FrameDurationMs:   opts.frame,
		PaddingDurationMs: opts.padding,
		VoicedRatio:       opts.ratio,
	}, classifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vadtrim: %v\n", err)
		return 1
	}

	dir := opts.out
	if dir == "" {
		dir = filepath.Dir(input)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := seg.SegmentFile(ctx, input, dir)
	switch {
	case errors.Is(err, segment.ErrNoSpeech):
		fmt.Println("no speech detected")
		return exitNoSpeech
	case err != nil:
		fmt.Fprintf(os.Stderr, "vadtrim: %v\n", err)
		return 1
	}
	fmt.Println(path)
	return 0
}
