package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

var checkCmd = &cobra.Command{
	Use:   "check <program.dl>...",
	Short: "Parse and schema-check programs, non-zero exit on error",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	hasError := false
	for _, path := range args {
		if err := checkFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			hasError = true
			continue
		}
		fmt.Printf("%s: ok\n", path)
	}
	if hasError {
		return fmt.Errorf("dlogc: one or more programs failed to check")
	}
	return nil
}

func checkFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dict := term.NewDictionary()
	parsed, err := program.Parse(string(src), dict)
	if err != nil {
		return err
	}
	_, err = program.New(parsed.Rules, parsed.EDBPredicates)
	return err
}
