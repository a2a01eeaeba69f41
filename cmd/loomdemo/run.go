package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loom-go/loom/engine"
)

var (
	maxBranches int
	maxThreads  int
	logSwitches bool
)

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Replay the named built-in scenarios (all of them if none are given)",
	Run:   runCommand,
}

func init() {
	runCmd.Flags().IntVar(&maxBranches, "max-branches", 5000, "Maximum branch tape size before a replay panics")
	runCmd.Flags().IntVar(&maxThreads, "max-threads", 8, "Maximum number of logical threads per replay")
	runCmd.Flags().BoolVar(&logSwitches, "log-switches", false, "Log every `~~ THREAD n ~~` scheduling switch")
}

func runCommand(cmd *cobra.Command, args []string) {
	scenarios := builtinScenarios()
	if len(args) > 0 {
		wanted := make(map[string]bool, len(args))
		for _, a := range args {
			wanted[a] = true
		}
		var selected []scenario
		for _, s := range scenarios {
			if wanted[s.name] {
				selected = append(selected, s)
			}
		}
		scenarios = selected
	}
	if len(scenarios) == 0 {
		log.Fatal().Msg("no matching built-in scenario; see `loomdemo list`")
	}

	failed := 0
	for _, s := range scenarios {
		cfg := engine.Config{
			MaxThreads:      maxThreads,
			MaxBranches:     maxBranches,
			MaxMemory:       1 << 20,
			PreemptionBound: s.bound,
			Log:             logSwitches,
		}
		d, err := engine.NewDriver(cfg)
		if err != nil {
			log.Fatal().Err(err).Str("scenario", s.name).Msg("invalid engine configuration")
		}

		failure := d.Run(s.name, s.run)
		if failure != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %-32s %s\n", s.name, failure.Error())
			continue
		}
		fmt.Printf("ok   %-32s run id %s\n", s.name, d.RunID)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d/%d scenarios failed\n", failed, len(scenarios))
		os.Exit(1)
	}
}
