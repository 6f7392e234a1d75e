package cli

import (
	"context"

	"github.com/graftdebug/graft/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Name:  "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			o.Printf("%s", config.Format(a.cfg))

			return nil
		},
	}
}
