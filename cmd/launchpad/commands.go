package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// GlobalFlags holds the persistent flags shared by client commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "launchpad",
		Short: "Supervise a local development service stack",
		Long: "launchpad starts, stops, and monitors the processes of a local\n" +
			"development stack, with dependency-ordered startup, log capture,\n" +
			"and automatic restart of crashed services.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "launchpad.toml", "path to the TOML config file")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api", defaultAPIURL, "base URL of the launchpad daemon")
	root.PersistentFlags().DurationVar(&gf.APITimeout, "timeout", 60*time.Second, "HTTP timeout for daemon requests")

	root.AddCommand(
		createServeCommand(gf),
		createStartCommand(gf),
		createStopCommand(gf),
		createStartAllCommand(gf),
		createStopAllCommand(gf),
		createStatusCommand(gf),
		createLogsCommand(gf),
		createPresetCommand(gf),
		createHistoryCommand(gf),
	)
	return root
}

func dial(gf *GlobalFlags) (*APIClient, error) {
	c := NewAPIClient(gf.APIUrl, gf.APITimeout)
	if !c.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s, start it with 'launchpad serve'", gf.APIUrl)
	}
	return c, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func createServeCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(gf.ConfigPath)
		},
	}
}

func createStartCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start SERVICE",
		Short: "Start a service and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			if err := c.Start(args[0]); err != nil {
				return err
			}
			fmt.Printf("started %s\n", args[0])
			return nil
		},
	}
}

func createStopCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop SERVICE",
		Short: "Stop one service (dependents are left running)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			if err := c.Stop(args[0]); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", args[0])
			return nil
		},
	}
}

func createStartAllCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start-all",
		Short: "Start every service in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			return c.StartAll()
		},
	}
}

func createStopAllCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every service in reverse dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			return c.StopAll()
		},
	}
}

func createStatusCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every service",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			statuses, err := c.Status()
			if err != nil {
				return err
			}
			printJSON(statuses)
			return nil
		},
	}
}

func createLogsCommand(gf *GlobalFlags) *cobra.Command {
	var (
		lines  int
		merged bool
		search string
	)
	cmd := &cobra.Command{
		Use:   "logs [SERVICE]",
		Short: "Show captured service output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			var recs []LogRecord
			switch {
			case search != "":
				recs, err = c.SearchLogs(search)
			case merged || len(args) == 0:
				recs, err = c.MergedLogs(lines)
			default:
				recs, err = c.Logs(args[0], lines)
			}
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Printf("%s [%s] %-5s %s\n", r.At.Format("15:04:05.000"), r.Service, r.Severity, r.Line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines to show")
	cmd.Flags().BoolVar(&merged, "merged", false, "interleave all services by timestamp")
	cmd.Flags().StringVar(&search, "search", "", "show only lines containing this term")
	return cmd
}

func createPresetCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "preset NAME",
		Short: "Converge the running set onto a named preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			if err := c.ApplyPreset(args[0]); err != nil {
				return err
			}
			fmt.Printf("applied preset %s\n", args[0])
			return nil
		},
	}
}

func createHistoryCommand(gf *GlobalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [SERVICE]",
		Short: "Show persisted state transitions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(gf)
			if err != nil {
				return err
			}
			service := ""
			if len(args) == 1 {
				service = args[0]
			}
			recs, err := c.History(service, limit)
			if err != nil {
				return err
			}
			printJSON(recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum transitions to show")
	return cmd
}
