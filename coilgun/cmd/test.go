package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var testInterval time.Duration

var testCmd = &cobra.Command{
	Use:   "test <main-hv|drain|hv|voltages|fire|sensors|blink> [coil]",
	Short: "Exercise one hardware function repeatedly",
	Long: `Repeats one hardware routine until Ctrl-C, pausing between steps.
drain and hv toggle a single coil's relay; without a coil name every coil is
tested in turn, Ctrl-C moving to the next one.`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"main-hv", "drain", "hv", "voltages", "fire", "sensors", "blink"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			return runTest(s, args)
		})
	},
}

func init() {
	testCmd.Flags().DurationVar(&testInterval, "interval", time.Second, "pause between steps")
	rootCmd.AddCommand(testCmd)
}

// step is one iteration of a test routine.
type step func(ctx context.Context) error

func runTest(s *session, args []string) error {
	routine := args[0]

	switch routine {
	case "drain", "hv":
		names := s.gun.Names()
		if len(args) == 2 {
			names = []string{args[1]}
		}
		for _, name := range names {
			idx := indexOf(s.gun.Names(), name)
			if idx < 0 {
				return errors.Errorf("unknown coil %q", name)
			}
			if err := repeat(s, fmt.Sprintf("%s %s", routine, name), toggle(s, routine, idx)); err != nil {
				return err
			}
		}
		return s.gun.Off()
	}

	var fn step
	switch routine {
	case "main-hv":
		fn = func(ctx context.Context) error {
			if err := s.gun.MainHVOn(); err != nil {
				return err
			}
			if err := pause(ctx); err != nil {
				return err
			}
			return s.gun.MainHVOff()
		}
	case "voltages":
		fn = func(context.Context) error {
			volts, err := s.gun.ReadVoltages()
			if err != nil {
				return err
			}
			printVoltages(s.gun, volts, s.gun.Targets())
			return nil
		}
	case "fire":
		fn = func(ctx context.Context) error {
			result, err := s.gun.Fire(ctx)
			if err != nil {
				return err
			}
			report(s, result)
			return nil
		}
	case "sensors":
		fn = func(context.Context) error {
			blocked, err := s.gun.Sensors()
			if err != nil {
				return err
			}
			pterm.Info.Printfln("Sensors blocked: %v", blocked)
			return nil
		}
	case "blink":
		fn = func(context.Context) error {
			return s.gun.Blink()
		}
	default:
		return errors.Errorf("unknown test %q", routine)
	}

	if err := repeat(s, routine, fn); err != nil {
		return err
	}
	return s.gun.Off()
}

// toggle switches one coil's relay on and the others off, then inverts it.
func toggle(s *session, routine string, idx int) step {
	set := s.gun.SetDrain
	if routine == "hv" {
		set = s.gun.SetHV
	}
	return func(ctx context.Context) error {
		bits := make([]bool, len(s.gun.Coils()))
		bits[idx] = true
		if err := set(bits); err != nil {
			return err
		}
		if err := pause(ctx); err != nil {
			return err
		}
		for i := range bits {
			bits[i] = !bits[i]
		}
		return set(bits)
	}
}

// repeat runs fn until Ctrl-C. Interrupting is the normal way out.
func repeat(s *session, name string, fn step) error {
	pterm.Info.Printfln("Testing %s. Press Ctrl-C to go on.", name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := pause(ctx); err != nil {
			return nil
		}
	}
}

func pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(testInterval):
		return nil
	}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
