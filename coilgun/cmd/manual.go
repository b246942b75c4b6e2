package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Monitor banks charged by hand, then fire",
	Long: `Connects main HV and every bank and shows the charge progress of the
least charged bank. Press Enter to stop charging early and go on to firing.
Ctrl-C aborts and drains every bank.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(runManual)
	},
}

func init() {
	rootCmd.AddCommand(manualCmd)
}

func runManual(s *session) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	enter := make(chan struct{})
	go func() {
		_, _ = fmt.Scanln()
		close(enter)
	}()

	bar, _ := pterm.DefaultProgressbar.WithTotal(100).WithTitle("Charging").Start()
	err := s.gun.Monitor(ctx, nil, func(volts []float64, percent int) bool {
		if d := percent - bar.Current; d > 0 {
			bar.Add(d)
		}
		bar.UpdateTitle(fmt.Sprintf("Charging %v", formatVolts(volts)))
		return pressed(enter)
	})
	_, _ = bar.Stop()

	if err != nil {
		if ctx.Err() != nil {
			pterm.Warning.Println("Interrupted, banks drained")
			return nil
		}
		return err
	}

	return fireAndDrain(ctx, s)
}

// pressed reports whether Enter was hit, without waiting for it.
func pressed(enter <-chan struct{}) bool {
	select {
	case <-enter:
		return true
	default:
		return false
	}
}

func formatVolts(volts []float64) string {
	out := ""
	for i, v := range volts {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%.0fV", v)
	}
	return out
}
