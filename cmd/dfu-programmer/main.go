// Command dfu-programmer flashes Atmel 8051/AVR and ST STM32 USB DFU
// bootloaders from Intel HEX images.
package main

import (
	"fmt"
	"os"

	"github.com/dfu-programmer/dfu-programmer/internal/cliapp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	pc, err := cliapp.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := cliapp.NewLogger(pc.DebugLevel)
	return cliapp.Execute(pc, os.Stdout, logger)
}
