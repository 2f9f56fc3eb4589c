package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/scene"
	"github.com/scenecast/scenecast/internal/ui"
)

const consoleHelp = `Console commands:
  play | pause | reset | record
  seek <seconds> | step <frames> | speed <scale> | format <png|jpg|mp4>
  filter <term> | show | hide
  set <path> <field> <value>
`

var errUnknownCommand = errors.New("unknown command, try help")

type consoleCommand struct {
	args int
	run  func(p *ui.Panel, args []string) error
}

var consoleCommands = map[string]consoleCommand{
	"play":   {0, func(p *ui.Panel, _ []string) error { return p.Play() }},
	"pause":  {0, func(p *ui.Panel, _ []string) error { return p.Pause() }},
	"reset":  {0, func(p *ui.Panel, _ []string) error { return p.Reset() }},
	"record": {0, func(p *ui.Panel, _ []string) error { return p.Record() }},
	"show":   {0, func(p *ui.Panel, _ []string) error { return p.EnableFiltered() }},
	"hide":   {0, func(p *ui.Panel, _ []string) error { return p.DisableFiltered() }},
	"format": {1, func(p *ui.Panel, args []string) error { return p.SetFormat(args[0]) }},
	"filter": {1, func(p *ui.Panel, args []string) error { return p.Filter(args[0]) }},
	"seek": {1, func(p *ui.Panel, args []string) error {
		t, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return p.Scrub(t)
	}},
	"speed": {1, func(p *ui.Panel, args []string) error {
		s, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return p.SetSpeed(s)
	}},
	"step": {1, func(p *ui.Panel, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return p.Step(n)
	}},
	"set": {3, func(p *ui.Panel, args []string) error {
		return p.EditNode(scene.SplitPath(args[0]), args[1], parseConsoleValue(args[2]))
	}},
}

// parseConsoleValue reads numbers and booleans, leaving anything else a string.
func parseConsoleValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// runConsole reads panel commands from r, one per line, until r is
// exhausted or ctx is done.
func runConsole(ctx context.Context, r io.Reader, out io.Writer, p *ui.Panel, log zerolog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], "help") {
			fmt.Fprint(out, consoleHelp)
			continue
		}
		if err := runConsoleLine(p, fields); err != nil {
			fmt.Fprintf(out, "%s: %v\n", fields[0], err)
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn().Err(err).Msg("Console input closed")
	}
}

func runConsoleLine(p *ui.Panel, fields []string) error {
	cmd, ok := consoleCommands[strings.ToLower(fields[0])]
	if !ok {
		return errUnknownCommand
	}
	if len(fields)-1 != cmd.args {
		return fmt.Errorf("expected %d argument(s), got %d", cmd.args, len(fields)-1)
	}
	return cmd.run(p, fields[1:])
}
