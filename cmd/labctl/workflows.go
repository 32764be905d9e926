package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"lab-console/internal/validation"
	"lab-console/internal/workflows"
	"lab-console/pkg/api"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func workflowsGroup() *group {
	return &group{
		name: "workflows",
		help: Help{Synopsis: "edit, run and inspect workflows"},
		commands: []*command{
			workflowsList(),
			workflowsWatch(),
			workflowsCreate(),
			workflowsAddNode(),
			workflowsRemoveNode(),
			workflowsRun(),
			workflowsRemove(),
			workflowsCode(),
		},
	}
}

// scope is the experiment filter of workflow commands. Without -exp and
// LAB_EXPERIMENT_ID every experiment's workflows are visible.
func (c *console) scope(exp string) (uuid.UUID, error) {
	if strings.TrimSpace(exp) == "" && strings.TrimSpace(c.cfg.ExperimentId) == "" {
		return uuid.Nil, nil
	}
	return c.experiment(exp)
}

func (c *console) findWorkflow(ctx context.Context, exp string, arg string) (*workflows.Model, api.Workflow, error) {
	expId, err := c.scope(exp)
	if err != nil {
		return nil, api.Workflow{}, err
	}
	id, err := uuid.Parse(arg)
	if err != nil {
		return nil, api.Workflow{}, usageErrorf("invalid workflow id %q", arg)
	}

	model := c.workflows(expId)
	if _, err := model.Refresh(ctx); err != nil {
		return nil, api.Workflow{}, err
	}
	wf, ok := model.Find(id)
	if !ok {
		return nil, api.Workflow{}, fmt.Errorf("workflow %s not found", id)
	}
	model.Select(id)
	return model, wf, nil
}

func loadDefinition(path string) (api.WorkflowDefinition, error) {
	var def api.WorkflowDefinition
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("error reading workflow definition: %w", err)
	}
	// JSON documents are valid YAML.
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, validation.Errorf("file", "%s is not a workflow definition: %v", path, err)
	}
	return def, nil
}

func workflowsList() *command {
	var exp string
	return &command{
		name: "list",
		help: Help{Synopsis: "list workflows"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID, all experiments if unset)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			expId, err := c.scope(exp)
			if err != nil {
				return err
			}
			list, err := c.workflows(expId).Refresh(ctx)
			if err != nil {
				return err
			}
			return printWorkflows(c.out, list)
		},
	}
}

func printWorkflows(out io.Writer, list []api.Workflow) error {
	w := tableTo(out, "ID", "NAME", "STATUS", "NODES", "CURRENT")
	for _, wf := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", wf.Id, wf.Name, wf.Status, len(wf.Nodes()), wf.CurrentNode)
	}
	return w.Flush()
}

func workflowsWatch() *command {
	var exp string
	return &command{
		name: "watch",
		help: Help{
			Synopsis: "print the workflow list every time it changes",
			Detail: `
Revalidates the workflow list every LAB_POLL_INTERVAL and prints it when it
changes, including changes made by other consoles or by running workflows.
Runs until interrupted.
`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID, all experiments if unset)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 0 {
				return usageErrorf("unexpected arguments %v", f.Args())
			}
			expId, err := c.scope(exp)
			if err != nil {
				return err
			}
			return follow(ctx, c, c.workflows(expId).Resource(), printWorkflows)
		},
	}
}

func workflowsCreate() *command {
	var exp, file string
	return &command{
		name: "create",
		args: "NAME",
		help: Help{
			Synopsis: "create a workflow",
			Detail: `
Creates a workflow, optionally from a YAML or JSON definition:

  nodes:
    - id: load
      kind: load_model
      out:
        - to: eval
    - id: eval
      kind: eval
`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
			f.StringVar(&file, "file", "", "workflow definition file")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one workflow name")
			}
			expId, err := c.experiment(exp)
			if err != nil {
				return err
			}
			def, err := loadDefinition(file)
			if err != nil {
				return err
			}

			wf, err := c.workflows(expId).Create(ctx, expId, f.Arg(0), def)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, wf.Id)
			return nil
		},
	}
}

func workflowsAddNode() *command {
	var exp, params string
	var spec workflows.NodeSpec
	return &command{
		name: "add-node",
		args: "WORKFLOW_ID",
		help: Help{
			Synopsis: "add a node to a workflow",
			Detail: `
Adds a node. Without -after the node follows the last node of the workflow;
-detached adds it without an incoming edge.
`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
			f.StringVar(&spec.Id, "id", "", "node id (generated if empty)")
			f.StringVar(&spec.Kind, "kind", "", "plugin, evaluator or task the node runs")
			f.StringVar(&spec.Name, "name", "", "display name")
			f.StringVar(&spec.After, "after", "", "id of the node the new node follows")
			f.StringVar(&spec.Condition, "condition", "", "condition on the incoming edge")
			f.BoolVar(&spec.Detached, "detached", false, "add the node without an incoming edge")
			f.StringVar(&params, "params", "", "node parameters as a JSON object")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one workflow id")
			}
			if params != "" {
				if err := json.Unmarshal([]byte(params), &spec.Parameters); err != nil {
					return validation.Errorf("params", "parameters are not a JSON object: %v", err)
				}
			}
			model, wf, err := c.findWorkflow(ctx, exp, f.Arg(0))
			if err != nil {
				return err
			}

			wf, err = model.AddNode(ctx, wf, spec)
			if err != nil {
				return err
			}
			nodes := wf.Nodes()
			fmt.Fprintln(c.out, nodes[len(nodes)-1].Id)
			return nil
		},
	}
}

func workflowsRemoveNode() *command {
	var exp string
	return &command{
		name: "rm-node",
		args: "WORKFLOW_ID NODE_ID",
		help: Help{Synopsis: "remove a node and its edges"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 2 {
				return usageErrorf("expected a workflow id and a node id")
			}
			model, wf, err := c.findWorkflow(ctx, exp, f.Arg(0))
			if err != nil {
				return err
			}
			if _, err := model.RemoveNode(ctx, wf, f.Arg(1)); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "removed node %s\n", f.Arg(1))
			return nil
		},
	}
}

func workflowsRun() *command {
	var exp string
	return &command{
		name: "run",
		args: "WORKFLOW_ID",
		help: Help{Synopsis: "start a workflow run"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one workflow id")
			}
			model, wf, err := c.findWorkflow(ctx, exp, f.Arg(0))
			if err != nil {
				return err
			}
			if err := model.Run(ctx, wf); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "workflow %s started\n", wf.Id)
			return nil
		},
	}
}

func workflowsRemove() *command {
	var exp string
	var yes bool
	return &command{
		name: "rm",
		args: "WORKFLOW_ID",
		help: Help{Synopsis: "delete a workflow and all of its nodes"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
			f.BoolVar(&yes, "yes", false, "do not ask for confirmation")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one workflow id")
			}
			model, wf, err := c.findWorkflow(ctx, exp, f.Arg(0))
			if err != nil {
				return err
			}

			confirm := func(wf api.Workflow) bool {
				if yes {
					return true
				}
				return c.confirm(fmt.Sprintf("delete workflow %q and its %d nodes?", wf.Name, len(wf.Nodes())))
			}
			if err := model.Delete(ctx, wf, confirm); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted workflow %s\n", wf.Id)
			return nil
		},
	}
}

func workflowsCode() *command {
	var exp, format string
	return &command{
		name: "code",
		args: "WORKFLOW_ID",
		help: Help{Synopsis: "print the definition of a workflow"},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&exp, "exp", "", "experiment id (default $LAB_EXPERIMENT_ID)")
			f.StringVar(&format, "format", "json", "output format: json, yaml or dot")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 1 {
				return usageErrorf("expected exactly one workflow id")
			}
			if format != "json" && format != "yaml" && format != "dot" {
				return usageErrorf("unknown format %q", format)
			}
			_, wf, err := c.findWorkflow(ctx, exp, f.Arg(0))
			if err != nil {
				return err
			}

			switch format {
			case "yaml":
				_, err = fmt.Fprint(c.out, workflows.ViewAsYAML(wf))
			case "dot":
				err = workflows.WriteDot(c.out, wf)
			default:
				_, err = fmt.Fprintln(c.out, workflows.ViewAsCode(wf))
			}
			return err
		},
	}
}
