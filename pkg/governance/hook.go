// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// maxArgsDisplay bounds how much of the argument payload is shown in
// an approval prompt.
const maxArgsDisplay = 500

// StaticNotifier resolves every invocation immediately with a fixed
// decision. It backs non-interactive sessions where nobody can answer
// a prompt.
type StaticNotifier struct {
	broker   *Broker
	approved bool
	reason   string
}

// NewStaticNotifier creates a notifier that always answers the same way.
func NewStaticNotifier(broker *Broker, approved bool, reason string) *StaticNotifier {
	if reason == "" {
		if approved {
			reason = "approved by policy"
		} else {
			reason = "denied: non-interactive session"
		}
	}
	return &StaticNotifier{broker: broker, approved: approved, reason: reason}
}

// Notify resolves the invocation without waiting.
func (n *StaticNotifier) Notify(_ context.Context, inv Invocation) {
	n.broker.Resolve(inv.ID, n.approved, n.reason)
}

// ConsoleNotifier prompts for approval on stdin/stdout and resolves
// the operator's answer through the broker.
type ConsoleNotifier struct {
	broker *Broker
	in     *bufio.Reader
	out    io.Writer
	prompt string

	// mu serializes prompts so interleaved invocations never share a
	// read from the input stream.
	mu sync.Mutex
}

// ConsoleOption configures the console notifier.
type ConsoleOption func(*ConsoleNotifier)

// WithConsoleInput sets the input reader.
func WithConsoleInput(r io.Reader) ConsoleOption {
	return func(n *ConsoleNotifier) {
		if r != nil {
			n.in = bufio.NewReader(r)
		}
	}
}

// WithConsoleOutput sets the output writer.
func WithConsoleOutput(w io.Writer) ConsoleOption {
	return func(n *ConsoleNotifier) {
		if w != nil {
			n.out = w
		}
	}
}

// WithConsolePrompt sets the prompt string.
func WithConsolePrompt(prompt string) ConsoleOption {
	return func(n *ConsoleNotifier) {
		if strings.TrimSpace(prompt) != "" {
			n.prompt = prompt
		}
	}
}

// NewConsoleNotifier creates a console-based approval notifier.
func NewConsoleNotifier(broker *Broker, opts ...ConsoleOption) *ConsoleNotifier {
	n := &ConsoleNotifier{
		broker: broker,
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		prompt: "Approve? [y/N]: ",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify prints the invocation and collects the operator's answer in
// the background. The gate keeps ownership of the wait: a timeout or
// cancellation there wins over a late console answer.
func (n *ConsoleNotifier) Notify(ctx context.Context, inv Invocation) {
	go n.ask(ctx, inv)
}

func (n *ConsoleNotifier) ask(ctx context.Context, inv Invocation) {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, _ = fmt.Fprintf(n.out, "\nApproval required for tool %q (%s)\n", inv.Name, inv.Risk)
	if args := strings.TrimSpace(inv.Arguments); args != "" {
		_, _ = fmt.Fprintf(n.out, "Arguments: %s\n", truncateForDisplay(args, maxArgsDisplay))
	}
	_, _ = fmt.Fprint(n.out, n.prompt)

	responseCh := make(chan string, 1)
	go func() {
		line, _ := n.in.ReadString('\n')
		responseCh <- line
	}()

	select {
	case <-ctx.Done():
		return
	case line := <-responseCh:
		answer := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(answer, "y") {
			n.broker.Resolve(inv.ID, true, "approved by operator")
			return
		}
		n.broker.Resolve(inv.ID, false, "rejected by operator")
	}
}

func truncateForDisplay(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
