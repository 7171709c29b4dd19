package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/core"
	"github.com/jllopis/mneme/pkg/errors"
)

// runChat starts an interactive loop on stdin. One session id spans the
// whole loop, so every exchange sees the prior ones through the
// transcript. Editing the config file mid-chat swaps in a fresh agent
// and a fresh session for the following exchanges.
func runChat(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	ensureNoArgs(args)

	reload := config.NewReloadableConfig(cfg)
	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath)
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(reload.Update)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	current := reload.Get()
	h, err := buildAgent(current)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = h.Close() }()

	sessionCtx := core.WithSessionID(ctx, core.NewSessionID())

	if interactive() {
		fmt.Println("mneme chat. Type 'exit' or Ctrl-D to quit.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for ctx.Err() == nil {
		if interactive() {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		if next := reload.Get(); next != current {
			// Running sessions keep their config; the reload takes
			// effect from the next exchange in a fresh session.
			_ = h.Close()
			current = next
			h, err = buildAgent(current)
			if err != nil {
				fatal(err)
			}
			sessionCtx = core.WithSessionID(ctx, core.NewSessionID())
			fmt.Fprintln(os.Stderr, "configuration reloaded, starting a new session")
		}

		exchangeCtx, cancel := withTimeout(sessionCtx, global.Timeout)
		res, err := h.Invoke(exchangeCtx, input)
		cancel()
		if err != nil {
			if errors.IsCode(err, errors.CodeLLMFatal) {
				fatal(err)
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if global.JSON {
			printJSON(res)
		} else {
			fmt.Println(res.Output)
		}
	}
	if err := scanner.Err(); err != nil {
		fatal(err)
	}
}
