package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "surgewatch",
		Short: "Detect surging short-form video content from engagement metrics",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(cycleCmd())
	root.AddCommand(scoresCmd())
	root.AddCommand(categoriesCmd())

	return root
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with all schedulers and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API without schedulers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func cycleCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single collection cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(name)
		},
	}

	cmd.Flags().StringVar(&name, "scheduler", "", "scheduler name (default: first configured)")
	return cmd
}

func scoresCmd() *cobra.Command {
	var (
		jsonOutput bool
		surging    bool
		minScore   float64
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Show current trend scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScores(jsonOutput, surging, minScore, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&surging, "surging", false, "only surging content")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum composite score")
	cmd.Flags().IntVar(&limit, "limit", 20, "max scores to show")
	return cmd
}

func categoriesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Show per-category surge aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategories(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
