// Command labctl is the operator console for the lab backend.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"lab-console/internal/config"

	"github.com/google/subcommands"
)

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) subcommands.ExitStatus {
	top := flag.NewFlagSet("labctl", flag.ContinueOnError)
	top.SetOutput(errOut)
	envFile := top.String("env", "", "path to load env from")

	commander := subcommands.NewCommander(top, "labctl")
	commander.Output = out
	commander.Error = errOut
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for _, g := range []*group{
		jobsGroup(),
		evalsGroup(),
		workflowsGroup(),
		experimentsGroup(),
		configGroup(),
		chatGroup(),
	} {
		commander.Register(g, "console")
	}

	if err := top.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			io.WriteString(errOut, err.Error()+"\n")
			return subcommands.ExitFailure
		}
	}

	cfg, err := config.Parse[config.ConsoleConfig]()
	if err != nil {
		io.WriteString(errOut, err.Error()+"\n")
		return subcommands.ExitFailure
	}

	c := newConsole(cfg, in, out, errOut)
	return commander.Execute(ctx, c, c.logger)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(int(status))
}
