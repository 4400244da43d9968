package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/scrollharvest/report"
)

var reportFlags struct {
	followers string
	following string
	out       string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compare a followers list with a following list.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFlags.followers == "" || reportFlags.following == "" {
			return errors.New("both --followers and --following are required")
		}
		logger, closer := newLogger(logOptions{Level: logLevel, File: logFile, Console: true, MaxSizeMB: 50, MaxBackups: 3})
		defer closer.Close()

		followers, err := report.Load(reportFlags.followers)
		if err != nil {
			return err
		}
		following, err := report.Load(reportFlags.following)
		if err != nil {
			return err
		}

		r := report.Compare(followers, following)
		if _, err := r.Save(cmd.Context(), reportFlags.out, logger); err != nil {
			return err
		}
		r.Summary(os.Stdout)
		return nil
	},
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportFlags.followers, "followers", "", "harvested followers (.json or .jsonl)")
	f.StringVar(&reportFlags.following, "following", "", "harvested following (.json or .jsonl)")
	f.StringVar(&reportFlags.out, "out", ".", "output directory")
	rootCmd.AddCommand(reportCmd)
}
