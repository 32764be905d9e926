package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"slices"

	"lab-console/internal/evals"
	"lab-console/internal/validation"
	"lab-console/pkg/api"
)

func evalsGroup() *group {
	return &group{
		name: "evals",
		help: Help{Synopsis: "manage the evaluation tasks of an experiment"},
		commands: []*command{
			evalsList(),
			evalsWatch(),
			evalsAdd(),
			evalsQueue(),
			evalsRemove(),
		},
	}
}

func evalsList() *command {
	var exp string
	return &command{
		name: "list",
		help: Help{Synopsis: "list evaluation tasks"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}
			tasks, err := c.registry.Tasks(ctx, expId)
			if err != nil {
				return err
			}
			return printTasks(c.out, tasks)
		},
	}
}

func printTasks(out io.Writer, tasks []api.EvaluationTask) error {
	w := tableTo(out, "NAME", "PLUGIN", "PARAMETERS")
	for _, task := range tasks {
		params := ""
		if len(task.ScriptParameters) > 0 {
			data, _ := json.Marshal(task.ScriptParameters)
			params = string(data)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", task.Name, task.Plugin, params)
	}
	return w.Flush()
}

func evalsWatch() *command {
	var exp string
	return &command{
		name: "watch",
		help: Help{
			Synopsis: "print the evaluation tasks every time they change",
			Detail: `
Revalidates the task list every LAB_POLL_INTERVAL and prints it when it
changes. Runs until interrupted.
`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 0 {
				return usageErrorf("unexpected arguments %v", f.Args())
			}
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}
			return follow(ctx, c, c.registry.Resource(expId), printTasks)
		},
	}
}

func evalsAdd() *command {
	var exp, name, plugin, params, fields string
	return &command{
		name: "add",
		help: Help{
			Synopsis: "add an evaluation task",
			Example: `labctl evals add -name accuracy -plugin exact_match
labctl evals add -name checks -plugin custom -fields '[{"name":"polite","expression":"...","return_type":"boolean"}]'`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
			f.StringVar(&name, "name", "", "task name, unique within the experiment")
			f.StringVar(&plugin, "plugin", "", "evaluation plugin")
			f.StringVar(&params, "params", "", "script parameters as a JSON object")
			f.StringVar(&fields, "fields", "", "custom evaluation fields as a JSON array")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}

			task := api.EvaluationTask{Name: name, Plugin: plugin}
			if params != "" {
				if err := json.Unmarshal([]byte(params), &task.ScriptParameters); err != nil {
					return validation.Errorf("params", "parameters are not a JSON object: %v", err)
				}
			}
			if fields != "" {
				custom := evals.ParseCustomFields(fields)
				if len(custom) == 0 {
					return validation.Errorf("fields", "no custom fields could be read from %q", fields)
				}
				if err := evals.ValidateCustomFields(custom); err != nil {
					return err
				}
				if task.ScriptParameters == nil {
					task.ScriptParameters = map[string]any{}
				}
				task.ScriptParameters[evals.CustomFieldsParameter] = custom
			}

			if err := c.registry.Add(ctx, expId, task); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "added evaluation %s\n", task.Name)
			return nil
		},
	}
}

func evalsQueue() *command {
	var exp string
	return &command{
		name: "queue",
		args: "NAME",
		help: Help{Synopsis: "queue an EVAL job for a task"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one task name")
			}
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}

			tasks, err := c.registry.Tasks(ctx, expId)
			if err != nil {
				return err
			}
			idx := slices.IndexFunc(tasks, func(t api.EvaluationTask) bool { return t.Name == f.Arg(0) })
			if idx < 0 {
				return validation.Errorf("name", "evaluation %q does not exist", f.Arg(0))
			}

			job, err := c.registry.Queue(ctx, expId, tasks[idx].Plugin, tasks[idx].Name)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, job.Id)
			return nil
		},
	}
}

func evalsRemove() *command {
	var exp string
	return &command{
		name: "rm",
		args: "NAME",
		help: Help{Synopsis: "remove an evaluation task"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one task name")
			}
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}
			if err := c.registry.Remove(ctx, expId, f.Arg(0)); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "removed evaluation %s\n", f.Arg(0))
			return nil
		},
	}
}
