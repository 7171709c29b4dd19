package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jllopis/mneme/pkg/config"
	"github.com/jllopis/mneme/pkg/core"
)

// runOnce performs a single exchange and exits. The prompt comes from
// the arguments, or from stdin when piped.
func runOnce(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" && !interactive() {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal(err)
		}
		input = strings.TrimSpace(string(data))
	}
	if input == "" {
		fatal(fmt.Errorf("usage: mneme run <prompt>"))
	}

	h, err := buildAgent(cfg)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = h.Close() }()

	runCtx, cancel := withTimeout(core.WithSessionID(ctx, core.NewSessionID()), global.Timeout)
	defer cancel()

	res, err := h.Invoke(runCtx, input)
	if err != nil {
		fatal(err)
	}
	if global.JSON {
		printJSON(res)
		return
	}
	fmt.Println(res.Output)
}
