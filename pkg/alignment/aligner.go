// Package alignment provides the rigid coregistration collaborator used to bring
// every prepared slab, together with its coverage phantom, onto the grid of the
// low-resolution reference.
package alignment

import (
	"context"
	"errors"
	"fmt"
)

// ErrAlignmentFailure wraps every failure reported by an aligner
var ErrAlignmentFailure = errors.New("alignment failed")

// Aligner registers source onto reference and applies the same rigid transform
// to companion. Both source and companion are overwritten at their paths with
// volumes sampled on the reference grid.
type Aligner interface {
	Align(ctx context.Context, reference, source, companion string) error
}

// Checker is implemented by aligners that depend on something outside the
// process and can tell whether it is usable.
type Checker interface {
	Available() error
}

// Check reports whether the aligner can run. Aligners without external
// dependencies are always available.
func Check(a Aligner) error {
	if c, ok := a.(Checker); ok {
		return c.Available()
	}
	return nil
}

// Engine names accepted by New
const (
	EngineResample = "resample"
	EngineCommand  = "command"
)

// Options selects and configures an aligner
type Options struct {
	// Engine is EngineResample or EngineCommand
	Engine string

	// Command and Args configure EngineCommand
	Command string
	Args    []string

	// OutputPrefix is prepended by the external tool to the files it writes
	OutputPrefix string

	// ScratchDir receives the copies handed to the external tool
	ScratchDir string
}

// New builds the aligner described by opts
func New(opts Options) (Aligner, error) {
	switch opts.Engine {
	case EngineResample, "":
		return &ResampleAligner{}, nil
	case EngineCommand:
		if opts.Command == "" {
			return nil, fmt.Errorf("command aligner needs a command")
		}
		return &CommandAligner{
			Command:      opts.Command,
			Args:         opts.Args,
			OutputPrefix: opts.OutputPrefix,
			ScratchDir:   opts.ScratchDir,
		}, nil
	}
	return nil, fmt.Errorf("unknown alignment engine %q", opts.Engine)
}

func failure(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAlignmentFailure, fmt.Sprintf(format, args...))
}
