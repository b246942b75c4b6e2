package main

import "github.com/itohio/coilgun/coilgun/cmd"

func main() {
	cmd.Execute()
}
