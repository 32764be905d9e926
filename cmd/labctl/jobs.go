package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"lab-console/internal/jobs"
	"lab-console/pkg/api"

	"github.com/schollz/progressbar/v3"
)

func jobsGroup() *group {
	return &group{
		name: "jobs",
		help: Help{Synopsis: "list, follow and stop jobs"},
		commands: []*command{
			jobsList(),
			jobsWatch(),
			jobsWait(),
			jobsStop(),
		},
	}
}

func jobFilter(jobType string) jobs.Filter {
	return jobs.FilterOf(api.JobType(strings.ToUpper(strings.TrimSpace(jobType))))
}

func printJobs(c *console, list []api.Job) error {
	w := c.table("ID", "TYPE", "STATUS", "PROGRESS", "CREATED", "ERROR")
	for _, job := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.Id, job.Type, job.Status, job.Progress, job.CreatedAt.Local().Format(time.DateTime), job.Error)
	}
	return w.Flush()
}

func jobsList() *command {
	var jobType, filter string
	return &command{
		name: "list",
		help: Help{
			Synopsis: "list jobs",
			Example:  `labctl jobs list -type EVAL -filter 'status = "RUNNING" AND progress > 50'`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&jobType, "type", "", "only list jobs of this type")
			f.StringVar(&filter, "filter", "", "query expression evaluated by the backend")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			if f.NArg() != 0 {
				return usageErrorf("unexpected arguments %v", f.Args())
			}
			c.tracker.WithQuery(filter).SetFilter(jobFilter(jobType))
			list, err := c.tracker.Refresh(ctx)
			if err != nil {
				return err
			}
			return printJobs(c, list)
		},
	}
}

func jobsWatch() *command {
	var jobType string
	return &command{
		name: "watch",
		help: Help{
			Synopsis: "print the job list every time it changes",
			Detail: `
Polls the job list and prints it whenever the backend reports a change.
Failed polls are reported on stderr and polling continues. Runs until
interrupted.
`,
		},
		flags: func(f *flag.FlagSet) {
			f.StringVar(&jobType, "type", "", "only watch jobs of this type")
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			filter := jobFilter(jobType)
			c.tracker.SetFilter(filter)
			for snapshot, err := range c.tracker.Subscribe(ctx, filter) {
				if err != nil {
					fmt.Fprintf(c.errOut, "backend unreachable, showing last known jobs: %v\n", err)
					continue
				}
				fmt.Fprintf(c.out, "-- %s --\n", time.Now().Format(time.TimeOnly))
				if err := printJobs(c, snapshot); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func jobsWait() *command {
	return &command{
		name: "wait",
		args: "JOB_ID",
		help: Help{
			Synopsis: "follow a job until it finishes",
			Detail: `
Shows the progress of a job until it reaches COMPLETE, FAILED or STOPPED.
Exits non-zero unless the job completed.
`,
		},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			id, err := parseId(f.Args(), "job id")
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(100,
				progressbar.OptionSetWriter(c.errOut),
				progressbar.OptionSetDescription(fmt.Sprintf("job %s", id)),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
			)

			job, err := c.tracker.Await(ctx, id, func(job api.Job) {
				bar.Describe(fmt.Sprintf("%s %s", job.Type, job.Status))
				if job.Progress.Known() {
					_ = bar.Set(int(job.Progress.Percent()))
				}
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "%s %s %s\n", job.Id, job.Type, job.Status)
			if job.Status != api.JobComplete {
				if job.Error != "" {
					return fmt.Errorf("job %s %s: %s", job.Id, strings.ToLower(string(job.Status)), job.Error)
				}
				return fmt.Errorf("job %s %s", job.Id, strings.ToLower(string(job.Status)))
			}
			return nil
		},
	}
}

func jobsStop() *command {
	return &command{
		name: "stop",
		args: "JOB_ID",
		help: Help{Synopsis: "ask the backend to stop a job"},
		run: func(ctx context.Context, c *console, f *flag.FlagSet) error {
			id, err := parseId(f.Args(), "job id")
			if err != nil {
				return err
			}
			if err := c.tracker.Stop(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "stop requested for job %s\n", id)
			return nil
		},
	}
}
