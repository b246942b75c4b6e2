package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/itohio/coilgun/pkg/controller"
)

var voltagesCmd = &cobra.Command{
	Use:   "voltages",
	Short: "Read the bank voltages once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			volts, err := s.gun.ReadVoltages()
			if err != nil {
				return err
			}
			printVoltages(s.gun, volts, s.gun.Targets())
			return nil
		})
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := controller.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Port", "Description"})
		for _, p := range ports {
			t.AppendRow(table.Row{p.Name, p.Description})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(voltagesCmd)
	rootCmd.AddCommand(portsCmd)
}
