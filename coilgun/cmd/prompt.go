package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"

	"github.com/itohio/coilgun/pkg/coilgun"
)

// promptTargets asks for a target voltage per enabled coil and stores it on
// the coil. An empty answer keeps the configured target. Invalid input is
// asked again.
func promptTargets(gun *coilgun.Coilgun) error {
	for _, cl := range gun.Coils() {
		if !cl.On() {
			continue
		}
		for {
			answer, err := pterm.DefaultInteractiveTextInput.Show(
				fmt.Sprintf("Target voltage for %s [%.0f]", cl.Name(), cl.Target()))
			if err != nil {
				return err
			}
			answer = strings.TrimSpace(answer)
			if answer == "" {
				break
			}
			v, err := strconv.ParseFloat(answer, 64)
			if err != nil || v <= 0 {
				pterm.Warning.Printfln("%q is not a positive voltage", answer)
				continue
			}
			cl.SetTarget(v)
			break
		}
	}
	return nil
}

// confirm asks a yes/no question.
var confirm = func(question string, def bool) (bool, error) {
	return pterm.DefaultInteractiveConfirm.WithDefaultValue(def).Show(question)
}

// countdown shows the same countdown the controller runs on its display.
func countdown(clk clock.Clock, seconds int) {
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Firing in %d", seconds))
	for s := seconds; s > 0; s-- {
		spinner.UpdateText(fmt.Sprintf("Firing in %d", s))
		clk.Sleep(time.Second)
	}
	spinner.Success("Fire!")
}

func printVoltages(gun *coilgun.Coilgun, volts []float64, targets []float64) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Coil", "On", "Voltage (V)", "Target (V)", "Charge"})
	for i, cl := range gun.Coils() {
		row := table.Row{cl.Name(), cl.On(), fmt.Sprintf("%.1f", at(volts, i)), "", ""}
		if i < len(targets) {
			row[3] = fmt.Sprintf("%.0f", targets[i])
			row[4] = fmt.Sprintf("%d%%", cl.Percent(at(volts, i), targets[i]))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func printShot(r *coilgun.ShotResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Coil", "Voltage (V)", "Trigger", "Blocked", "Velocity (m/s)", "Efficiency"})
	for i, name := range r.Coils {
		row := table.Row{name, fmt.Sprintf("%.1f", at(r.Voltages, i)), "-", "-", "-", "-"}
		if i < len(r.TriggerTimes) {
			row[2] = r.TriggerTimes[i].String()
		}
		if i < len(r.BlockingTimes) {
			row[3] = r.BlockingTimes[i].String()
		}
		if i < len(r.Velocities) {
			row[4] = fmt.Sprintf("%.2f", r.Velocities[i])
		}
		if i < len(r.Efficiencies) {
			row[5] = fmt.Sprintf("%.3f%%", r.Efficiencies[i]*100)
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%.1f J", r.Energy), "", "",
		fmt.Sprintf("%.2f", r.ExitVelocity()), fmt.Sprintf("%.3f%%", r.TotalEfficiency*100)})
	t.Render()
	pterm.Info.Printfln("Kinetic energy: %.3f J", r.KineticEnergy)
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}
