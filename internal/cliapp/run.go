package cliapp

import (
	"fmt"
	"io"

	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
	"github.com/dfu-programmer/dfu-programmer/internal/progcmd"
	"github.com/dfu-programmer/dfu-programmer/internal/target"
)

// version is the package string the `version` command prints.
const version = "dfu-programmer 1.0.0 (Go)"

// Execute runs a ParsedCommand to completion, writing command output to
// stdout and returning the process exit code.
func Execute(pc *ParsedCommand, stdout io.Writer, logger *Logger) int {
	switch pc.Kind {
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "targets":
		for _, t := range target.All() {
			fmt.Fprintf(stdout, "%-16s %-12s vid=0x%04x pid=0x%04x size=0x%x\n",
				t.Name, t.Class, t.VendorID, t.ProductID, t.MemorySize)
		}
		return 0
	}

	logger.Infof("running %s %s", pc.Req.Target, pc.Req.Command)
	pc.Req.Trace = func(request string, val, idx uint16) {
		logger.Tracef("%s wValue=0x%04x wIndex=0x%04x", request, val, idx)
	}
	result, err := progcmd.Run(pc.Req)
	if err != nil {
		logger.Warnf("%v", err)
		return hexerr.ExitCode(err)
	}
	if result.Text != "" {
		fmt.Fprintln(stdout, result.Text)
	}
	return 0
}
