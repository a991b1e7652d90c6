package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"departureboard/internal/config"
	"departureboard/internal/domain"
	"departureboard/internal/fetcher"
	"departureboard/pkg/mvgapi"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <stop_id>",
	Short: "Fetches upcoming departures for a stop once and prints them",
	Args:  cobra.ExactArgs(1),
	RunE:  departures,
}

var (
	includeFilter string
	excludeFilter string
	amount        int
)

func init() {
	departuresCmd.Flags().StringVarP(&includeFilter, "include", "i", "", `Only count these lines, "line:dest;line:dest"`)
	departuresCmd.Flags().StringVarP(&excludeFilter, "exclude", "x", "", `Never count these lines, "line:dest;line:dest"`)
	departuresCmd.Flags().IntVarP(&amount, "amount", "n", 5, "Number of matching departures to collect")
	rootCmd.AddCommand(departuresCmd)
}

func departures(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	stop := domain.StopConfig{
		StopID:   args[0],
		Include:  domain.ParseLineDests(includeFilter),
		Exclude:  domain.ParseLineDests(excludeFilter),
		MinCount: amount,
	}
	if err := config.ValidateBoard(stop); err != nil {
		return err
	}

	client := mvgapi.New(cfg.MVGAPIBaseURL, cfg.MVGTransportTypes, logger)
	f := fetcher.New(client, fetcher.Options{
		PageTimeout: cfg.PageTimeout,
		MaxPages:    cfg.MaxPages,
		FutureGuard: cfg.FutureGuard,
	}, nil, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	res, err := f.Fetch(ctx, stop)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	now := time.Now()
	for _, d := range res.Departures {
		fmt.Fprintf(out, "%s (%2d min) - %-5s - %s\n",
			d.Time.Local().Format("15:04"),
			int(d.Time.Sub(now).Minutes()),
			d.Line,
			d.Destination,
		)
	}
	if res.Capped {
		fmt.Fprintf(out, "stopped after %d pages\n", res.Pages)
	}
	return nil
}
