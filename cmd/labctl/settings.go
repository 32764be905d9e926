package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"slices"

	"lab-console/internal/chatscript"
	"lab-console/internal/labclient"
)

func configGroup() *group {
	return &group{
		name: "config",
		help: Help{Synopsis: "read and write global console settings"},
		commands: []*command{
			{
				name: "get",
				args: "KEY",
				help: Help{Synopsis: "print a setting"},
				run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
					if f.NArg() != 1 {
						return usageErrorf("expected exactly one key")
					}
					value, err := c.client.GetConfig(ctx, f.Arg(0))
					if errors.Is(err, labclient.ErrNotFound) {
						return fmt.Errorf("setting %q is not set", f.Arg(0))
					} else if err != nil {
						return err
					}
					fmt.Fprintln(c.out, value)
					return nil
				},
			},
			{
				name: "set",
				args: "KEY VALUE",
				help: Help{Synopsis: "store a setting"},
				run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
					if f.NArg() != 2 {
						return usageErrorf("expected a key and a value")
					}
					return c.client.SetConfig(ctx, f.Arg(0), f.Arg(1))
				},
			},
		},
	}
}

func experimentsGroup() *group {
	return &group{
		name: "experiments",
		help: Help{Synopsis: "create and inspect experiments"},
		commands: []*command{
			{
				name: "create",
				args: "NAME",
				help: Help{Synopsis: "create an experiment and print its id"},
				run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
					if f.NArg() != 1 {
						return usageErrorf("expected exactly one experiment name")
					}
					id, err := c.client.CreateExperiment(ctx, f.Arg(0))
					if err != nil {
						return err
					}
					fmt.Fprintln(c.out, id)
					return nil
				},
			},
			experimentsShow(),
		},
	}
}

func experimentsShow() *command {
	var exp string
	return &command{
		name: "show",
		help: Help{Synopsis: "print the configuration of an experiment"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}
			experiment, err := c.client.GetExperiment(ctx, expId)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "%s %s\n", experiment.Id, experiment.Name)
			keys := make([]string, 0, len(experiment.Config))
			for key := range experiment.Config {
				keys = append(keys, key)
			}
			slices.Sort(keys)

			w := c.table("KEY", "VALUE")
			for _, key := range keys {
				fmt.Fprintf(w, "%s\t%s\n", key, experiment.Config[key])
			}
			return w.Flush()
		},
	}
}

func chatGroup() *group {
	return &group{
		name: "chat",
		help: Help{Synopsis: "queue scripted conversations"},
		commands: []*command{chatQueue()},
	}
}

func chatQueue() *command {
	var exp, system string
	return &command{
		name: "queue",
		args: "FILE",
		help: Help{
			Synopsis: "queue a chat script as a GENERATE job",
			Detail: `
Reads a JSON chat script, either {"chats": [...]} or a bare list of
{"role": ..., "content": ...} messages, and queues it as a GENERATE job.
`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
			f.StringVar(&system, "system", "", "replace the system message")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one script file")
			}
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}

			script, err := chatscript.Load(f.Arg(0))
			if err != nil {
				return err
			}
			if system != "" {
				script.SetSystemMessage(system)
			}

			id, err := chatscript.Queue(ctx, c.client, expId, script)
			if err != nil {
				return err
			}
			_ = c.coord.Revalidate(ctx, c.tracker)
			fmt.Fprintln(c.out, id)
			return nil
		},
	}
}
