package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in scenarios loomdemo can run",
	Run: func(cmd *cobra.Command, args []string) {
		for _, s := range builtinScenarios() {
			fmt.Printf("%-32s %s\n", s.name, s.description)
		}
	},
}
