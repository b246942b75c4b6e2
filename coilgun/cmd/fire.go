package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/itohio/coilgun/pkg/coilgun"
)

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Charge the banks to target voltages and fire",
	Long: `Prompts for a target voltage per coil, charges every enabled bank,
counts down and fires. Ctrl-C while charging aborts and drains the banks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(runFire)
	},
}

func init() {
	rootCmd.AddCommand(fireCmd)
}

func runFire(s *session) error {
	if err := promptTargets(s.gun); err != nil {
		return err
	}
	ok, err := confirm("Charge the banks?", false)
	if err != nil || !ok {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner, _ := pterm.DefaultSpinner.Start("Charging")
	if err := s.gun.Charge(ctx, nil); err != nil {
		spinner.Fail("Charging stopped, banks drained")
		return err
	}
	spinner.Success("Charged")
	if !s.gun.ReadyToFire() {
		return multierr.Append(coilgun.ErrNotReady, s.gun.ForceDrain())
	}

	return fireAndDrain(ctx, s)
}

// fireAndDrain asks for a last confirmation, fires and makes the banks
// safe again. It is the common tail of the fire and manual commands.
func fireAndDrain(ctx context.Context, s *session) error {
	volts, err := s.gun.ReadVoltages()
	if err != nil {
		return err
	}
	printVoltages(s.gun, volts, s.gun.Targets())

	ok, err := confirm("Fire?", false)
	if err != nil || !ok {
		pterm.Info.Println("Not firing, draining banks")
		return multierr.Append(err, s.gun.ForceDrain())
	}

	if err := s.gun.StartCountdown(); err != nil {
		return err
	}
	countdown(s.clock, s.cfg.Charge.Countdown)

	result, err := s.gun.Fire(ctx)
	if err != nil {
		return err
	}
	report(s, result)

	s.clock.Sleep(s.cfg.Charge.SettleAfterFire)
	return drain(ctx, s)
}

// drain drains banks that are safe to drain. Banks still charged above
// their threshold need the operator to choose between draining them through
// the resistors and firing again.
func drain(ctx context.Context, s *session) error {
	err := s.gun.DrainAfterFire()
	var unsafe *coilgun.SafetyError
	if !errors.As(err, &unsafe) {
		if err == nil {
			pterm.Success.Println("Banks drained")
		}
		return err
	}

	pterm.Warning.Println(unsafe.Error())
	force, cerr := confirm("Drain them anyway?", false)
	if cerr != nil {
		return multierr.Append(cerr, s.gun.ForceDrain())
	}
	if force {
		return s.gun.ForceDrain()
	}

	pterm.Info.Println("Discharging by firing again")
	result, err := s.gun.Discharge(ctx)
	if result != nil {
		report(s, result)
	}
	if err != nil {
		return multierr.Append(err, s.gun.Off())
	}
	return s.gun.Off()
}

func report(s *session, result *coilgun.ShotResult) {
	printShot(result)
	if err := s.publisher.PublishShot(result); err != nil {
		s.logger.Warnw("failed to publish shot", "error", err)
	}
}
