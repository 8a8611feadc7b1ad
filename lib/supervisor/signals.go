// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ForwardTable is the set of signals relayed to the child. The set is
// fixed at construction.
type ForwardTable struct {
	signals []syscall.Signal

	mu        sync.Mutex
	installed bool
	channel   chan os.Signal
	stopped   chan struct{}
	finished  sync.WaitGroup
}

// ParseSignals builds a ForwardTable from signal names. Names are
// case-insensitive and the "SIG" prefix is optional ("SIGUSR1",
// "usr1" and "USR1" are the same signal); decimal numbers are accepted
// too. Duplicates are ignored. SIGKILL and SIGSTOP cannot be caught and
// are rejected.
func ParseSignals(names []string) (*ForwardTable, error) {
	var signals []syscall.Signal
	for _, name := range names {
		sig, err := parseSignal(name)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return NewForwardTable(signals...), nil
}

// NewForwardTable builds a ForwardTable from signal values.
func NewForwardTable(signals ...syscall.Signal) *ForwardTable {
	table := slices.Clone(signals)
	slices.Sort(table)
	return &ForwardTable{signals: slices.Compact(table)}
}

func parseSignal(name string) (syscall.Signal, error) {
	trimmed := strings.TrimSpace(name)
	if number, err := strconv.Atoi(trimmed); err == nil {
		if number <= 0 || unix.SignalName(syscall.Signal(number)) == "" {
			return 0, fmt.Errorf("unknown signal number %d", number)
		}
		return checkCatchable(syscall.Signal(number))
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	sig := unix.SignalNum(upper)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return checkCatchable(sig)
}

func checkCatchable(sig syscall.Signal) (syscall.Signal, error) {
	if sig == syscall.SIGKILL || sig == syscall.SIGSTOP {
		return 0, fmt.Errorf("signal %s cannot be forwarded", unix.SignalName(sig))
	}
	return sig, nil
}

// Signals returns the table's signals in numeric order.
func (t *ForwardTable) Signals() []syscall.Signal {
	return slices.Clone(t.signals)
}

// Contains reports whether sig is forwarded.
func (t *ForwardTable) Contains(sig os.Signal) bool {
	number, ok := sig.(syscall.Signal)
	if !ok {
		return false
	}
	_, found := slices.BinarySearch(t.signals, number)
	return found
}

// Names returns the table's signal names, for logging.
func (t *ForwardTable) Names() []string {
	names := make([]string, len(t.signals))
	for i, sig := range t.signals {
		names[i] = unix.SignalName(sig)
	}
	return names
}

// Install starts relaying the table's signals to process. It may be
// called once; Stop ends relaying. An empty table installs nothing.
func (t *ForwardTable) Install(process *Process) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.installed {
		return errors.New("supervisor: forward table already installed")
	}
	t.installed = true
	if len(t.signals) == 0 {
		return nil
	}

	t.channel = make(chan os.Signal, 4)
	t.stopped = make(chan struct{})
	notify := make([]os.Signal, len(t.signals))
	for i, sig := range t.signals {
		notify[i] = sig
	}
	signal.Notify(t.channel, notify...)

	t.finished.Add(1)
	go t.forward(process)
	return nil
}

func (t *ForwardTable) forward(process *Process) {
	defer t.finished.Done()
	for {
		select {
		case sig := <-t.channel:
			if err := process.Signal(sig); err != nil {
				process.logger.Warn("forwarding signal to child failed", "signal", sig.String(), "error", err)
				continue
			}
			process.logger.Debug("forwarded signal to child", "signal", sig.String())
		case <-t.stopped:
			return
		}
	}
}

// Stop ends relaying and restores default handling of the table's
// signals. It is safe to call more than once, and before Install.
func (t *ForwardTable) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channel == nil {
		return
	}
	signal.Stop(t.channel)
	close(t.stopped)
	t.finished.Wait()
	t.channel = nil
}
