package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// signalExitBase is added to the signal number on a forced exit, the way
// shells report a process killed by a signal.
const signalExitBase = 128

// interruptHandler turns SIGINT and SIGTERM into cancellation. The first
// signal cancels the command context: a transfer in flight stops, and a file
// already checked out stays checked out on the server. The second exits.
type interruptHandler struct {
	logger *slog.Logger
	hint   io.Writer
	exit   func(code int)
}

// shutdownContext returns a context canceled by the first interrupt. hint
// receives a one-line notice on that interrupt and may be nil.
func shutdownContext(parent context.Context, logger *slog.Logger, hint io.Writer) context.Context {
	h := &interruptHandler{logger: logger, hint: hint, exit: os.Exit}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer signal.Stop(sigCh)
		h.watch(parent, ctx, cancel, sigCh)
	}()

	return ctx
}

func (h *interruptHandler) watch(parent, ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal) {
	select {
	case sig := <-sigCh:
		h.logger.Info("received signal, stopping",
			slog.String("signal", sig.String()),
		)

		if h.hint != nil {
			fmt.Fprintln(h.hint, "Stopping. Files already checked out stay checked out; interrupt again to quit now.")
		}

		cancel()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		h.logger.Warn("received second signal, forcing exit",
			slog.String("signal", sig.String()),
		)
		h.exit(exitCodeFor(sig))
	case <-parent.Done():
		return
	}
}

func exitCodeFor(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return signalExitBase + int(s)
	}

	return 1
}
