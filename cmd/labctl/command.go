package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"lab-console/internal/validation"

	"github.com/google/subcommands"
)

// ErrUsage is returned by a command invoked with invalid flags or arguments.
var ErrUsage = errors.New("usage error")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// Help message components.
type Help struct {
	// short description of the command.
	Synopsis string

	// example of the command.
	Example string

	// long description of the command.
	Detail string
}

type action func(ctx context.Context, c *console, f *flag.FlagSet) error

// command adapts a single labctl action to subcommands.Command.
type command struct {
	name   string
	args   string
	help   Help
	flags  func(f *flag.FlagSet)
	run    action
	parent string
}

var _ subcommands.Command = &command{}

func (cmd *command) Name() string {
	return cmd.name
}

func (cmd *command) Synopsis() string {
	return cmd.help.Synopsis
}

func (cmd *command) fullName() string {
	if cmd.parent == "" {
		return cmd.name
	}
	return cmd.parent + " " + cmd.name
}

func (cmd *command) Usage() string {
	return buildUsageMessage(cmd.fullName()+" [flags] "+cmd.args, cmd.help)
}

func buildUsageMessage(command string, help Help) string {
	indent := func(s string) string {
		return "  " + strings.ReplaceAll(s, "\n", "\n  ")
	}

	message := []string{"Usage: " + strings.TrimSpace(command), ""}
	if help.Detail != "" {
		message = append(message, indent(strings.TrimSpace(help.Detail)))
	} else {
		message = append(message, indent(strings.TrimSpace(help.Synopsis)))
	}
	if help.Example != "" {
		message = append(message, "", "Example:", indent(strings.TrimSpace(help.Example)))
	}
	return strings.Join(message, "\n") + "\n\n"
}

func (cmd *command) SetFlags(f *flag.FlagSet) {
	if cmd.flags != nil {
		cmd.flags(f)
	}
}

func (cmd *command) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c, logger, ok := extract(args)
	if !ok {
		return subcommands.ExitFailure
	}

	err := cmd.run(ctx, c, f)
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case errors.Is(err, ErrUsage):
		logger.Printf("%s\n\n%s", err, cmd.Usage())
		return subcommands.ExitUsageError
	case validation.Is(err):
		logger.Printf("%s: %s", cmd.fullName(), err)
		return subcommands.ExitUsageError
	default:
		logger.Printf("%s: %s", cmd.fullName(), err)
		return subcommands.ExitFailure
	}
}

func extract(args []interface{}) (*console, *log.Logger, bool) {
	var c *console
	var logger *log.Logger
	for _, arg := range args {
		switch v := arg.(type) {
		case *console:
			c = v
		case *log.Logger:
			logger = v
		}
	}
	if logger == nil && c != nil {
		logger = c.logger
	}
	return c, logger, c != nil && logger != nil
}

// group dispatches to a nested set of commands, e.g. "jobs list".
type group struct {
	name     string
	help     Help
	commands []*command
}

var _ subcommands.Command = &group{}

func (g *group) Name() string {
	return g.name
}

func (g *group) Synopsis() string {
	return g.help.Synopsis
}

func (g *group) Usage() string {
	names := make([]string, 0, len(g.commands))
	for _, cmd := range g.commands {
		names = append(names, cmd.name)
	}
	return buildUsageMessage("labctl "+g.name+" <"+strings.Join(names, "|")+"> [flags] [args]", g.help)
}

func (g *group) SetFlags(*flag.FlagSet) {}

func (g *group) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c, _, ok := extract(args)
	if !ok {
		return subcommands.ExitFailure
	}

	top := flag.NewFlagSet("labctl "+g.name, flag.ContinueOnError)
	top.SetOutput(c.errOut)

	commander := subcommands.NewCommander(top, "labctl "+g.name)
	commander.Output = c.out
	commander.Error = c.errOut
	commander.Register(commander.HelpCommand(), "")
	for _, cmd := range g.commands {
		cmd.parent = "labctl " + g.name
		commander.Register(cmd, "")
	}

	if err := top.Parse(f.Args()); err != nil {
		return subcommands.ExitUsageError
	}
	return commander.Execute(ctx, args...)
}
