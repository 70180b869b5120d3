// Command slotctl inspects doctor availability and drills the booking API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "slotctl",
		Short:        "Inspect doctor slots and exercise the booking API",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.String("base-url", "", "booking-service base url (SLOTCTL_BASE_URL)")
	pf.String("user-id", "", "caller id sent as X-User-Id (SLOTCTL_USER_ID)")
	pf.String("role", "", "caller role sent as X-Role (SLOTCTL_ROLE)")
	pf.Duration("timeout", 0, "per-request timeout (SLOTCTL_TIMEOUT)")

	root.AddCommand(slotsCmd(), bookCmd(), raceCmd())
	return root
}

func clientFor(cmd *cobra.Command) (*Client, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return NewClient(cfg), nil
}

func slotsCmd() *cobra.Command {
	var doctorID, date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a doctor's slots for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor(cmd)
			if err != nil {
				return err
			}
			slots, err := c.Slots(cmd.Context(), doctorID, date)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range slots {
				state := "free"
				if !s.Available {
					state = "taken"
				}
				fmt.Fprintf(out, "%s  %s - %s  %s\n", s.SessionLabel, s.StartTime, s.EndTime, state)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id")
	cmd.Flags().StringVar(&date, "date", time.Now().Format(time.DateOnly), "day as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("doctor")
	return cmd
}

func bookFlags(cmd *cobra.Command, in *BookInput) {
	cmd.Flags().StringVar(&in.DoctorID, "doctor", "", "doctor id")
	cmd.Flags().StringVar(&in.StartTime, "start", "", "start time as RFC3339")
	cmd.Flags().StringVar(&in.AppointmentType, "type", "ONLINE", "ONLINE or IN_PERSON")
	cmd.Flags().IntVar(&in.DurationMinutes, "duration", 0, "minutes; 0 uses the doctor's slot length")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("start")
}

func bookCmd() *cobra.Command {
	var in BookInput
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book one appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor(cmd)
			if err != nil {
				return err
			}
			appt, err := c.Book(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s - %s\n", appt.AppointmentID, appt.StatusLabel, appt.StartTime, appt.EndTime)
			return nil
		},
	}
	bookFlags(cmd, &in)
	cmd.Flags().StringVar(&in.PatientID, "patient", "", "patient id (staff callers only)")
	return cmd
}

func raceCmd() *cobra.Command {
	var (
		in       BookInput
		prefix   string
		patients int
	)
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Book one slot from many patients at once and verify a single winner",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			res := runRace(ctx, c, in, prefix, patients)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "booked=%d conflicts=%d failures=%d\n", len(res.Booked), res.Conflicts, len(res.Failures))
			for _, err := range res.Failures {
				fmt.Fprintf(out, "  %v\n", err)
			}
			if !res.Healthy() {
				return fmt.Errorf("expected exactly one booking, got %d", len(res.Booked))
			}
			return nil
		},
	}
	bookFlags(cmd, &in)
	cmd.Flags().StringVar(&prefix, "patient-prefix", "pat-", "patient ids are <prefix><n>")
	cmd.Flags().IntVar(&patients, "patients", 16, "number of concurrent patients")
	return cmd
}
