package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-authgate/authclient/config"
	"github.com/go-authgate/authclient/logging"
	"github.com/go-authgate/authclient/session"
	"github.com/go-authgate/authclient/tui"
)

// errNotLoggedIn is returned by commands that need a stored session.
var errNotLoggedIn = errors.New("not logged in")

// reportedError marks an error the displayer already showed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// app carries what every command needs. Tests swap the writers and the
// terminal check.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	// tty reports whether the BubbleTea UI should be used.
	tty func() bool
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	a := &app{v: viper.New(), stdout: os.Stdout, stderr: os.Stderr, tty: isTTY}
	if err := a.rootCmd().Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// command is the body of a subcommand, run with a live session.
type command func(ctx context.Context, s *session.Session, d tui.Displayer) error

// run loads the configuration, builds the session and runs fn with the
// displayer matching the terminal.
func (a *app) run(fn command) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}

	tty := a.tty()
	log := a.logger(cfg, tty)
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.display(tty, func(d tui.Displayer) error {
		s, err := session.New(cfg, session.WithLogger(log))
		if err != nil {
			d.Fatal(err)
			return reportedError{err}
		}
		defer func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close session")
			}
		}()

		unfollow := tui.Follow(d, s.Bus())
		defer unfollow()

		if err := fn(ctx, s, d); err != nil {
			d.Fatal(err)
			return reportedError{err}
		}
		return nil
	})
}

// logger writes to stderr in plain mode. With the TUI on stderr, logs only
// go to the log file, if any.
func (a *app) logger(cfg config.Config, tty bool) zerolog.Logger {
	w := a.stderr
	if tty {
		w = io.Discard
	}
	format := logging.Format(cfg.LogFormat)
	if format == "" {
		format = logging.FormatConsole
	}
	return logging.New(w, logging.Options{
		Level:  cfg.LogLevel,
		Format: format,
		File:   cfg.LogFile,
	})
}

func (a *app) display(tty bool, fn func(d tui.Displayer) error) error {
	if !tty {
		d := tui.NewPlainDisplayer(a.stderr)
		d.Banner()
		return fn(d)
	}

	// Run TUI program on stderr so stdout pipes are not corrupted
	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(a.stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(a.stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	runErr := fn(d)
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return runErr
}
