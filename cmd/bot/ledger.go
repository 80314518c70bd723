package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/spread_engine/internal/config"
	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/storage"
)

type ledgerReport struct {
	Positions  []models.Position   `json:"positions"`
	Statistics *storage.Statistics `json:"statistics"`
}

func newLedgerCmd(configPath *string) *cobra.Command {
	var (
		asJSON bool
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Print ledger positions and statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := storage.NewStorage(cfg.Storage.Backend, cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer func() { _ = store.Close() }()

			loaded, err := store.LoadPositions()
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}
			return printLedger(cmd.OutOrStdout(), loaded, all, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include closed and rejected positions")
	return cmd
}

func printLedger(w io.Writer, loaded []models.Position, all, asJSON bool) error {
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].CreatedAt.Before(loaded[j].CreatedAt) })
	report := ledgerReport{Statistics: storage.ComputeStatistics(loaded), Positions: []models.Position{}}
	for _, p := range loaded {
		if all || p.IsActive() {
			report.Positions = append(report.Positions, p)
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUNDERLYING\tSTRATEGY\tSTATE\tQTY\tEXPIRATION\tCREDIT\tMARK\tP&L")
	for _, p := range report.Positions {
		pnl := "-"
		switch {
		case p.State == models.StateClosed:
			pnl = fmt.Sprintf("%.2f", p.RealizedPnL)
		case p.LastMark > 0:
			pnl = fmt.Sprintf("%.2f", p.DollarPnL(p.UnrealizedPnL(p.LastMark)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%.2f\t%.2f\t%s\n",
			shortID(p.ID), p.Underlying, p.Strategy, p.State, p.Quantity,
			p.Expiration.Format("2006-01-02"), p.EntryCredit, p.LastMark, pnl)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := report.Statistics
	_, err := fmt.Fprintf(w, "\nTrades: %d (%d won, %d lost, %.1f%% win rate)\nTotal P&L: $%.2f  Max drawdown: $%.2f  Streak: %d  Active: %d\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate, s.TotalPnL, s.MaxDrawdown, s.CurrentStreak, s.OpenPositions)
	return err
}
