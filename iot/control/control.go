// Package control reads operator commands from a terminal while a simulation runs.
//
// Commands are one per line, compared case-insensitively:
//
//	+  raise the temperature baseline
//	-  lower the temperature baseline
//	q  quit the simulator
//
// Anything else is ignored.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/cancelreader"

	"github.com/relabs-tech/devsim/core/logger"
	"github.com/relabs-tech/devsim/iot/simulator"
)

// Commands
const (
	CommandRaise = "+"
	CommandLower = "-"
	CommandQuit  = "q"
)

// Thermostat is the part of the simulation the operator controls
type Thermostat interface {
	RaiseTemperature() simulator.Baseline
	LowerTemperature() simulator.Baseline
}

// Reader applies operator commands to a Thermostat
type Reader struct {
	thermostat Thermostat
	input      io.Reader
	console    io.Writer
	quit       func()
}

// New creates a reader on input. Confirmations go to console, quit is called on the quit command.
func New(thermostat Thermostat, input io.Reader, console io.Writer, quit func()) *Reader {
	if console == nil {
		console = io.Discard
	}
	if quit == nil {
		quit = func() {}
	}
	return &Reader{
		thermostat: thermostat,
		input:      input,
		console:    console,
		quit:       quit,
	}
}

// PrintHelp writes the list of commands to w
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "\nPress the following key and <Enter>:")
	fmt.Fprintln(w, "   +  to increase temperature")
	fmt.Fprintln(w, "   -  to decrease temperature")
	fmt.Fprintln(w, "   q  to quit")
	fmt.Fprintln(w)
}

// Run reads commands until ctx is cancelled, the input ends or the operator quits. Run always
// returns when ctx is cancelled. Reads from terminals, pipes and other pollable files are
// aborted, a read from any other input is abandoned and ends with its input.
func (r *Reader) Run(ctx context.Context) {
	rlog := logger.FromContext(ctx)

	input := r.input
	cr, err := cancelreader.NewReader(r.input)
	if err != nil {
		// regular files cannot be polled, but they do not block either
		rlog.WithError(err).Debugln("input is not cancellable")
		cr = nil
	} else {
		input = cr
	}

	stop := make(chan struct{})
	lines := make(chan string)
	readDone := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readDone <- scanner.Err()
	}()

	// release stops the line reader and waits for it if its read can be aborted
	release := func() {
		close(stop)
		if cr == nil {
			return
		}
		if cr.Cancel() {
			select {
			case <-finished:
			case <-time.After(time.Second):
				rlog.Warnln("operator input did not stop")
			}
		}
		cr.Close()
	}

	for {
		select {
		case <-ctx.Done():
			release()
			return
		case line := <-lines:
			if r.Handle(line) {
				release()
				return
			}
		case err := <-readDone:
			release()
			if err != nil && !errors.Is(err, cancelreader.ErrCanceled) {
				rlog.WithError(err).Errorln("cannot read operator input")
				return
			}
			rlog.Debugln("operator input closed")
			return
		}
	}
}

// Handle executes one command line. It returns true if the operator quit.
func (r *Reader) Handle(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case CommandRaise:
		r.thermostat.RaiseTemperature()
		fmt.Fprintln(r.console, "Temperature increased")
	case CommandLower:
		r.thermostat.LowerTemperature()
		fmt.Fprintln(r.console, "Temperature decreased")
	case CommandQuit:
		fmt.Fprintln(r.console, "\nQuitting...")
		r.quit()
		return true
	}
	return false
}
