package cmd

import (
	"fmt"
	"log/slog"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return step("tests", test.Test)
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return step("linting", test.Lint)
		},
	}
}

func IntegrationTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integration-test",
		Short: "Run tests against a sensor attached to this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return step("integration testing", test.Integ)
		},
	}
}

// CheckCmd runs everything a change must pass before it is pushed.
func CheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run linting and unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := step("linting", test.Lint); err != nil {
				return err
			}
			return step("tests", test.Test)
		},
	}
}

func step(name string, fn func() error) error {
	slog.Info("running " + name)
	if err := fn(); err != nil {
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}
