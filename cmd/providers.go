package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"recap-gateway/internal/provider"
	"recap-gateway/internal/translator"
)

func newProvidersCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List vendors and their status",
		Long:  `List built-in and custom vendors with model, reasoning convention, deadline and priority.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			registry := provider.NewRegistry(cfg)
			priority := registry.PriorityList()
			printProviders(cmd.OutOrStdout(), translator.ProviderViews(registry.Vendors(), priority), priority)
			return nil
		},
	}
}

func printProviders(out io.Writer, views []translator.ProviderView, priority []string) {
	color.New(color.FgBlue, color.Bold).Fprintln(out, "Vendors")
	fmt.Fprintf(out, "  %-4s %-16s %-36s %-12s %-8s %s\n", "#", "ID", "MODEL", "REASONING", "TIMEOUT", "STATUS")

	for _, v := range views {
		position := "-"
		if v.Priority > 0 {
			position = strconv.Itoa(v.Priority)
		}
		status := color.RedString("no credentials")
		if v.Usable {
			status = color.GreenString("ready")
		}
		if v.Custom {
			status += color.CyanString(" (custom)")
		}
		timeout := (time.Duration(v.TimeoutMS) * time.Millisecond).String()
		fmt.Fprintf(out, "  %-4s %-16s %-36s %-12s %-8s %s\n", position, v.ID, v.Model, v.Reasoning, timeout, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %-15s: %v\n", "Priority", priority)
}
