package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/mutagen-io/gopass"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/siteops"
)

// errNotInteractive is returned when a required answer cannot be read
// because stdin is closed.
var errNotInteractive = errors.New("no answer available: stdin is not interactive")

// terminal prompts on the controlling terminal. It collects credentials,
// confirms destructive operations and offers checkout comparisons for
// review. When stdin is not a terminal, answers are read line by line and
// confirmations are declined unless --yes was given.
type terminal struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
	// readSecret reads a masked answer directly from the terminal.
	readSecret func() ([]byte, error)
}

var (
	_ auth.Prompter     = (*terminal)(nil)
	_ siteops.Confirmer = (*terminal)(nil)
	_ siteops.Reviewer  = (*terminal)(nil)
)

func newTerminal(in *os.File, out io.Writer, assumeYes bool) *terminal {
	fd := in.Fd()
	t := newTerminalFrom(in, out, isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd), assumeYes)
	t.readSecret = gopass.GetPasswdMasked

	return t
}

func newTerminalFrom(in io.Reader, out io.Writer, interactive, assumeYes bool) *terminal {
	t := &terminal{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		assumeYes:   assumeYes,
	}
	t.readSecret = t.readLineBytes

	return t
}

// Ask implements auth.Prompter. A blank answer is returned as is; the
// caller applies the field default.
func (t *terminal) Ask(ctx context.Context, spec auth.FieldSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprint(t.out, promptLine(spec))

	if spec.Secret && t.interactive {
		b, err := t.readSecret()
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", spec.Field, err)
		}

		return strings.TrimSpace(string(b)), nil
	}

	line, err := t.readLine()
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", spec.Field, err)
	}

	return line, nil
}

// promptLine renders one credential prompt with its placeholder, or a hint
// that the previous value is kept.
func promptLine(spec auth.FieldSpec) string {
	switch {
	case spec.Default != "" && spec.Secret:
		return fmt.Sprintf("%s (press Enter to keep the previous value): ", spec.Prompt)
	case spec.Default != "":
		return fmt.Sprintf("%s [%s]: ", spec.Prompt, spec.Default)
	default:
		return fmt.Sprintf("%s (%s): ", spec.Prompt, spec.Placeholder)
	}
}

// Confirm implements siteops.Confirmer.
func (t *terminal) Confirm(ctx context.Context, question string) (bool, error) {
	if t.assumeYes {
		return true, nil
	}

	if !t.interactive {
		return false, nil
	}

	return t.yesNo(ctx, question)
}

// Review implements siteops.Reviewer by offering to print the changed
// lines.
func (t *terminal) Review(ctx context.Context, cmp siteops.Comparison) error {
	if !t.interactive || cmp.Diff == "" {
		return nil
	}

	show, err := t.yesNo(ctx, "Show the differences?")
	if err != nil || !show {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "--- server %s\n+++ local %s\n%s", cmp.ServerPath, cmp.LocalPath, cmp.Diff)

	return nil
}

func (t *terminal) yesNo(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "%s [y/N]: ", question)

	line, err := t.readLine()
	if err != nil {
		return false, err
	}

	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *terminal) readLine() (string, error) {
	b, err := t.readLineBytes()
	return strings.TrimSpace(string(b)), err
}

func (t *terminal) readLineBytes() ([]byte, error) {
	line, err := t.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return []byte(line), nil
		}

		if errors.Is(err, io.EOF) {
			return nil, errNotInteractive
		}

		return nil, err
	}

	return []byte(strings.TrimRight(line, "\r\n")), nil
}
