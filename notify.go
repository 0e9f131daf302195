package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/tonimelisma/spsync/internal/siteops"
)

// consoleNotifier prints orchestrator messages. Progress and warnings go
// to stderr, final statuses to stdout. Quiet mode keeps warnings and
// errors only.
type consoleNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	quiet  bool
}

var _ siteops.Notifier = (*consoleNotifier)(nil)

func newConsoleNotifier(out, errOut io.Writer, quiet bool) *consoleNotifier {
	return &consoleNotifier{out: out, errOut: errOut, quiet: quiet}
}

func (n *consoleNotifier) Info(msg string) {
	if n.quiet {
		return
	}

	n.println(n.errOut, msg)
}

func (n *consoleNotifier) Warn(msg string) {
	n.println(n.errOut, "Warning: "+msg)
}

func (n *consoleNotifier) Error(err error) {
	n.println(n.errOut, "Error: "+err.Error())
}

func (n *consoleNotifier) Status(msg string) {
	if n.quiet || msg == "" {
		return
	}

	n.println(n.out, msg)
}

func (n *consoleNotifier) println(w io.Writer, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	fmt.Fprintln(w, msg)
}
