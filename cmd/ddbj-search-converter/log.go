package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddbj/search-converter/internal/runlog"
)

var (
	showLogMinLevel string
	showLogRunName  string
	showLogLimit    int
)

var showLogCmd = &cobra.Command{
	Use:   "show_log run_id",
	Short: "Print the structured log of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := runlog.ReadLog(cfg.LogDir(), args[0], showLogMinLevel)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s %-8s %s", e.TS, e.Level, e.Msg)
			if e.Accession != "" {
				line += " accession=" + e.Accession
			}
			if e.File != "" {
				line += " file=" + e.File
			}
			if e.DebugCategory != "" {
				line += " category=" + e.DebugCategory
			}
			if e.Error != "" {
				line += " error=" + e.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var showLogSummaryCmd = &cobra.Command{
	Use:   "show_log_summary",
	Short: "Print recent runs with their level and category counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := runlog.OpenStore(cfg.LogStorePath())
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(showLogRunName, showLogLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			ended := "-"
			if r.EndedAt != nil {
				ended = r.EndedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-40s %-8s %s .. %s\n", r.RunID, r.Status, r.StartedAt.Format(time.RFC3339), ended)
			for _, k := range sortedKeys(r.Counts) {
				fmt.Printf("    %-10s %d\n", k, r.Counts[k])
			}
			for _, k := range sortedKeys(r.Categories) {
				fmt.Printf("    %-26s %d\n", k, r.Categories[k])
			}
		}
		return nil
	},
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	showLogCmd.Flags().StringVar(&showLogMinLevel, "min-level", "INFO", "Lowest level to show")
	showLogSummaryCmd.Flags().StringVar(&showLogRunName, "run-name", "", "Filter by step name")
	showLogSummaryCmd.Flags().IntVar(&showLogLimit, "limit", 20, "Number of runs to show")
	rootCmd.AddCommand(showLogCmd, showLogSummaryCmd)
}
