package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"medsconnect/internal/schedule"
)

var (
	doseUser string
	doseDate string
	doseDays int
)

var generateLogsCmd = &cobra.Command{
	Use:   "generate-logs",
	Short: "Create pending dose logs for a user's medications due on a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := parseUserID(doseUser)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			day, err := schedule.ParseDay(doseDate, a.cfg.Location, a.clock())
			if err != nil {
				return fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", doseDate)
			}
			if err := a.requireUser(cmd.Context(), uid); err != nil {
				return err
			}
			n, err := a.engine.GenerateForDay(cmd.Context(), uid, day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", schedule.DayKey(day))
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted: %d\n", n)
			return nil
		})
	},
}

var adherenceCmd = &cobra.Command{
	Use:   "adherence",
	Short: "Show daily adherence percentages over a trailing window",
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := parseUserID(doseUser)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			if err := a.requireUser(cmd.Context(), uid); err != nil {
				return err
			}
			stats, err := a.engine.AdherenceStats(cmd.Context(), uid, doseDays)
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No logs in window")
				return nil
			}
			days := make([]string, 0, len(stats))
			for d := range stats {
				days = append(days, d)
			}
			sort.Strings(days)
			for _, d := range days {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %3d%%\n", d, stats[d])
			}
			return nil
		})
	},
}

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "List a user's medications due on a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := parseUserID(doseUser)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			day, err := schedule.ParseDay(doseDate, a.cfg.Location, a.clock())
			if err != nil {
				return fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", doseDate)
			}
			if err := a.requireUser(cmd.Context(), uid); err != nil {
				return err
			}
			meds, err := a.registry.ListDueOn(cmd.Context(), uid, day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", schedule.DayKey(day))
			if len(meds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing due")
				return nil
			}
			for _, m := range meds {
				times := make([]string, 0, len(m.ScheduledTimes))
				for _, t := range m.ScheduledTimes {
					times = append(times, schedule.Clock(t))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s %s\t%s\n", m.ID, m.Name, m.Dosage, m.Unit, strings.Join(times, ","))
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{generateLogsCmd, adherenceCmd, dueCmd} {
		c.Flags().StringVar(&doseUser, "user", "", "User id")
		_ = c.MarkFlagRequired("user")
		rootCmd.AddCommand(c)
	}
	generateLogsCmd.Flags().StringVar(&doseDate, "date", "", "Date YYYY-MM-DD (default today)")
	dueCmd.Flags().StringVar(&doseDate, "date", "", "Date YYYY-MM-DD (default today)")
	adherenceCmd.Flags().IntVar(&doseDays, "days", 30, "Window size in days, today included")
}
