// Package cliapp parses the command line and maps progcmd's errors to
// process exit codes. The command shape mixes global flags with
// per-command positional and flag-shaped trailing args, so parsing is
// a manual scan rather than a single flat flag.FlagSet.
package cliapp

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
	"github.com/dfu-programmer/dfu-programmer/internal/progcmd"
)

// ParsedCommand is what Parse produces: either a short-circuit (no USB
// access needed) or a fully built progcmd.Request.
type ParsedCommand struct {
	Kind       string // "version", "targets", or "run"
	Req        progcmd.Request
	Quiet      bool
	DebugLevel int
}

// Parse turns os.Args[1:]-shaped input into a ParsedCommand. `version`
// and `targets` never touch USB and can be recognized before any
// target lookup happens.
func Parse(args []string) (*ParsedCommand, error) {
	var quiet bool
	debugLevel := LevelSilent
	var positional []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--quiet":
			quiet = true
		case "--debug":
			if i+1 >= len(args) {
				return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "--debug requires a level")
			}
			i++
			lvl, err := strconv.Atoi(args[i])
			if err != nil || lvl < 0 || lvl > LevelTrace {
				return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "--debug level must be 0-3")
			}
			debugLevel = lvl
		default:
			positional = append(positional, args[i])
		}
	}

	if len(positional) == 0 {
		return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "no command given")
	}

	if positional[0] == "version" {
		return &ParsedCommand{Kind: "version", Quiet: quiet, DebugLevel: debugLevel}, nil
	}
	if positional[0] == "targets" {
		return &ParsedCommand{Kind: "targets", Quiet: quiet, DebugLevel: debugLevel}, nil
	}

	if len(positional) < 2 {
		return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "usage: <target> <command> [options] [file|data]")
	}

	req := progcmd.Request{Target: positional[0], Command: positional[1], Quiet: quiet}
	rest := positional[2:]

	var suppress bool
	var plain []string
	for _, a := range rest {
		if a == "--suppress-validation" {
			suppress = true
			continue
		}
		plain = append(plain, a)
	}
	req.SuppressValidation = suppress

	switch req.Command {
	case "configure":
		if len(plain) != 2 {
			return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "usage: configure {BSB|SBV|SSB|EB|HSB} [--suppress-validation] <value>")
		}
		req.ConfigProperty = plain[0]
		v, err := parseByteValue(plain[1])
		if err != nil {
			return nil, err
		}
		req.ConfigValue = v
	case "get":
		if len(plain) != 1 {
			return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "usage: get <field>")
		}
		req.GetField = plain[0]
	case "flash":
		if len(plain) != 1 {
			return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "usage: flash [--suppress-validation] <file>")
		}
		if plain[0] == "STDIN" {
			req.InputFile = os.Stdin
			break
		}
		f, err := os.Open(plain[0])
		if err != nil {
			return nil, hexerr.Wrap(hexerr.KindArgument, "cliapp.Parse", err)
		}
		req.InputFile = f
	case "dump":
		if len(plain) == 1 {
			f, err := os.Create(plain[0])
			if err != nil {
				return nil, hexerr.Wrap(hexerr.KindArgument, "cliapp.Parse", err)
			}
			req.OutputFile = f
		} else if len(plain) != 0 {
			return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", "usage: dump [outfile]")
		}
	case "erase", "start":
		if len(plain) != 0 {
			return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", fmt.Sprintf("%s takes no arguments", req.Command))
		}
	default:
		return nil, hexerr.New(hexerr.KindArgument, "cliapp.Parse", fmt.Sprintf("unknown command %q", req.Command))
	}

	return &ParsedCommand{Kind: "run", Req: req, Quiet: quiet, DebugLevel: debugLevel}, nil
}

func parseByteValue(s string) (byte, error) {
	base := 10
	trimmed := s
	if hex := strings.TrimPrefix(strings.ToLower(s), "0x"); hex != s {
		base = 16
		trimmed = hex
	}
	v, err := strconv.ParseUint(trimmed, base, 8)
	if err != nil {
		return 0, hexerr.New(hexerr.KindArgument, "cliapp.parseByteValue", fmt.Sprintf("invalid byte value %q", s))
	}
	return byte(v), nil
}
