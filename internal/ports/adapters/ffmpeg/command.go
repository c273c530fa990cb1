package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/forPelevin/clipstitch/internal/ports"
)

var defaultGlobal = []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error"}

type Input struct {
	Options []string
	Path    string
}

// Command is one ffmpeg invocation. Every call site builds one of these
// instead of hand-assembling argument slices.
type Command struct {
	Global []string // nil means defaultGlobal

	Inputs []Input

	VideoFilter   string
	AudioFilter   string
	FilterComplex string
	Maps          []string

	Video  []string
	Audio  []string
	Output []string

	OutputPath string
}

func (c *Command) AddInput(path string, opts ...string) *Command {
	c.Inputs = append(c.Inputs, Input{Options: opts, Path: path})
	return c
}

func (c Command) Args() []string {
	global := c.Global
	if global == nil {
		global = defaultGlobal
	}
	args := append([]string{}, global...)
	for _, in := range c.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if c.FilterComplex != "" {
		args = append(args, "-filter_complex", c.FilterComplex)
	}
	for _, m := range c.Maps {
		args = append(args, "-map", m)
	}
	if c.VideoFilter != "" {
		args = append(args, "-vf", c.VideoFilter)
	}
	args = append(args, c.Video...)
	if c.AudioFilter != "" {
		args = append(args, "-af", c.AudioFilter)
	}
	args = append(args, c.Audio...)
	args = append(args, c.Output...)
	return append(args, c.OutputPath)
}

// Execute runs c and checks that the declared output exists and is non-empty.
func Execute(ctx context.Context, r ports.Runner, bin string, timeout time.Duration, c Command) error {
	if c.OutputPath == "" {
		return fmt.Errorf("ffmpeg: command has no output path")
	}
	if _, err := r.Run(ctx, timeout, bin, c.Args()...); err != nil {
		return err
	}
	return VerifyOutput(c.OutputPath)
}

func FormatSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
