package alignment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"slabrecon/pkg/artifacts"
)

// CommandAligner delegates registration to an external tool that writes its
// results next to its inputs under a prefix. The tool is known to rewrite the
// headers of the files it is given, so it only ever sees scratch copies; the
// registered results are copied back over source and companion afterwards.
//
// Args may reference {reference}, {source}, {companion} and {prefix}; they are
// replaced with the reference path, the scratch copies and OutputPrefix. With no
// Args the tool is called as: command reference source companion.
type CommandAligner struct {
	Command      string
	Args         []string
	OutputPrefix string
	ScratchDir   string
}

// Available reports whether the command can be found
func (c *CommandAligner) Available() error {
	if _, err := exec.LookPath(c.Command); err != nil {
		return fmt.Errorf("%w: %s not found: %v", ErrAlignmentFailure, c.Command, err)
	}
	return nil
}

func (c *CommandAligner) prefix() string {
	if c.OutputPrefix == "" {
		return "r"
	}
	return c.OutputPrefix
}

// Align implements Aligner
func (c *CommandAligner) Align(ctx context.Context, reference, source, companion string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scratch := c.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	sourceTemp := filepath.Join(scratch, filepath.Base(source))
	companionTemp := filepath.Join(scratch, filepath.Base(companion))
	if err := artifacts.CopyFile(source, sourceTemp); err != nil {
		return failure("copying source to scratch: %v", err)
	}
	if err := artifacts.CopyFile(companion, companionTemp); err != nil {
		return failure("copying companion to scratch: %v", err)
	}

	args := c.expand(reference, sourceTemp, companionTemp)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = scratch
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return failure("%s %s: %v: %s", c.Command, strings.Join(args, " "), err, tail(out.String(), 512))
	}

	for _, pair := range [][2]string{{sourceTemp, source}, {companionTemp, companion}} {
		registered := filepath.Join(scratch, c.prefix()+filepath.Base(pair[0]))
		if _, err := os.Stat(registered); err != nil {
			return failure("expected output %s: %v", registered, err)
		}
		if err := artifacts.CopyFile(registered, pair[1]); err != nil {
			return failure("copying %s back: %v", registered, err)
		}
	}
	return nil
}

func (c *CommandAligner) expand(reference, source, companion string) []string {
	if len(c.Args) == 0 {
		return []string{reference, source, companion}
	}
	r := strings.NewReplacer(
		"{reference}", reference,
		"{source}", source,
		"{companion}", companion,
		"{prefix}", c.prefix(),
	)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	return args
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
