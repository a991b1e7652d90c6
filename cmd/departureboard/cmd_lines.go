package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"departureboard/internal/suggest"
	"departureboard/pkg/mvgapi"
	"departureboard/pkg/mvv"
)

var linesCmd = &cobra.Command{
	Use:   "lines <stop_id>",
	Short: "Lists the lines serving a stop",
	Args:  cobra.ExactArgs(1),
	RunE:  lines,
}

var stationsCmd = &cobra.Command{
	Use:   "stations <query>",
	Short: "Searches stations by name",
	Args:  cobra.ExactArgs(1),
	RunE:  stations,
}

var stationName string

func init() {
	linesCmd.Flags().StringVar(&stationName, "name", "", "Station name, enables the full MVV line list")
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(stationsCmd)
}

func newSuggester() *suggest.Suggester {
	client := mvgapi.New(cfg.MVGAPIBaseURL, cfg.MVGTransportTypes, logger)

	var scraper suggest.ScrapedLines
	if cfg.MVVEnabled {
		scraper = mvv.New(cfg.MVVAPIBaseURL, logger)
	}
	return suggest.New(client, scraper, client, nil, suggest.DefaultOptions(), logger)
}

func lines(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	result, err := newSuggester().Lines(ctx, args[0], stationName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ld := range result {
		fmt.Fprintf(out, "%-5s %s\n", ld.Line, ld.Destination)
	}
	return nil
}

func stations(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	result, err := newSuggester().Stations(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range result {
		fmt.Fprintf(out, "%-16s %s, %s\n", s.ID, s.Name, s.Place)
	}
	return nil
}
