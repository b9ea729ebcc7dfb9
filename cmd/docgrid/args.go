package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// positional accepts between min and max arguments (max < 0: no upper bound)
// and rejects blank ones, which would otherwise reach lookups as "".
func positional(min, max int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < min || (max >= 0 && len(args) > max) {
			return errors.New(message)
		}
		for i, arg := range args {
			if strings.TrimSpace(arg) == "" {
				return fmt.Errorf("argument %d is blank", i+1)
			}
		}
		return nil
	}
}

func requireExactlyArgs(count int, message string) cobra.PositionalArgs {
	return positional(count, count, message)
}

func requireAtMostArgs(max int, message string) cobra.PositionalArgs {
	return positional(0, max, message)
}

func requireAtLeastOneID(cmd *cobra.Command, args []string) error {
	return positional(1, -1, "document id is required")(cmd, args)
}
