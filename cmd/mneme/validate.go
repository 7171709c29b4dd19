package main

import (
	"fmt"
	"os"

	"github.com/jllopis/mneme/pkg/config"
)

// runValidate loads and validates the configuration, reporting the
// result without starting anything.
func runValidate(global globalFlags, args []string) {
	ensureNoArgs(args)

	type report struct {
		Valid  bool   `json:"valid"`
		Source string `json:"source,omitempty"`
		Error  string `json:"error,omitempty"`
	}

	cfg, err := config.Load(global.ConfigPath)
	if err == nil {
		err = cfg.Validate()
	}

	if global.JSON {
		r := report{Valid: err == nil, Source: global.ConfigPath}
		if err != nil {
			r.Error = err.Error()
		}
		printJSON(r)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	if err != nil {
		fatal(fmt.Errorf("configuration invalid: %w", err))
	}
	fmt.Println("configuration valid")
	fmt.Printf("assistant_id=%s model=%s endpoint=%s store=%s\n",
		cfg.Agent.AssistantID, cfg.Model.Name, cfg.Model.Endpoint, cfg.Conversation.Store)
}
