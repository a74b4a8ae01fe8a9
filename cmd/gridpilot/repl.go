package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot"
	"github.com/menta2k/gridpilot/pkg/controller"
)

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read commands interactively and run them one at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pilot, err := a.newPilot(cmd.Context())
			if err != nil {
				return err
			}
			defer pilot.Close()

			return withMetrics(cmd.Context(), a.cfg.Metrics.Listen, a.logger, func(ctx context.Context) error {
				return repl(ctx, pilot, os.Stdin, os.Stdout, a.logger)
			})
		},
	}
}

// repl runs one command per input line. Ctrl+C stops the running command;
// Ctrl+C at the prompt, a second Ctrl+C during a run, EOF or "exit" end the session.
func repl(ctx context.Context, pilot *gridpilot.Pilot, in io.Reader, out io.Writer, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// runs numbers the commands so a second Ctrl+C is only a quit within the same run
	var runs atomic.Int64
	go func() {
		var stopped int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				current := runs.Load()
				if pilot.State() == controller.Running && stopped != current {
					stopped = current
					logger.Warn("Stopping current command (press Ctrl+C again to quit)")
					pilot.Stop()
					continue
				}
				cancel()
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(out, "gridpilot %s. Type a command, or \"exit\" to quit.\n", gridpilot.Version)
	for {
		fmt.Fprint(out, "gridpilot> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		runs.Add(1)
		result, err := pilot.Run(ctx, line)
		switch {
		case errors.Is(err, controller.ErrAlreadyRunning):
			fmt.Fprintln(out, "A command is already running.")
			continue
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(out)
			return nil
		case err != nil:
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		fmt.Fprintf(out, "%s after %d iterations", result.Outcome, result.Iterations)
		if result.Reason != "" {
			fmt.Fprintf(out, ": %s", result.Reason)
		}
		fmt.Fprintln(out)
	}
}
