package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"text/tabwriter"
	"time"

	"lab-console/internal/config"
	"lab-console/internal/evals"
	"lab-console/internal/jobs"
	"lab-console/internal/labclient"
	"lab-console/internal/reconcile"
	"lab-console/internal/workflows"

	"github.com/google/uuid"
)

// console holds the client core shared by every labctl command.
type console struct {
	cfg    config.ConsoleConfig
	out    io.Writer
	errOut io.Writer
	in     *bufio.Reader
	logger *log.Logger

	client   *labclient.Client
	coord    *reconcile.Coordinator
	tracker  *jobs.Tracker
	registry *evals.Registry
}

func newConsole(cfg config.ConsoleConfig, in io.Reader, out, errOut io.Writer) *console {
	client := labclient.New(cfg.APIRoot, cfg.RequestTimeout)
	coord := reconcile.NewCoordinator(cfg.PollInterval)
	tracker := jobs.NewTracker(client, cfg.PollInterval)

	return &console{
		cfg:      cfg,
		out:      out,
		errOut:   errOut,
		in:       bufio.NewReader(in),
		logger:   log.New(errOut, "[labctl] ", 0),
		client:   client,
		coord:    coord,
		tracker:  tracker,
		registry: evals.NewRegistry(client, coord, tracker),
	}
}

// experiment resolves the experiment a command acts on: the -exp flag if
// given, LAB_EXPERIMENT_ID otherwise.
func (c *console) experiment(flagValue string) (uuid.UUID, error) {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = strings.TrimSpace(c.cfg.ExperimentId)
	}
	if value == "" {
		return uuid.Nil, usageErrorf("no experiment selected, pass -exp or set LAB_EXPERIMENT_ID")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, usageErrorf("invalid experiment id %q", value)
	}
	return id, nil
}

func (c *console) resolver() workflows.KindResolver {
	if len(c.cfg.NodeKinds) == 0 {
		return workflows.AnyKind
	}
	return workflows.Kinds(c.cfg.NodeKinds...)
}

func (c *console) workflows(experimentId uuid.UUID) *workflows.Model {
	return workflows.NewModel(c.client, c.coord, c.resolver(), experimentId)
}

// confirm asks a yes/no question on the console input. Anything but y or
// yes, including end of input, is a no.
func (c *console) confirm(question string) bool {
	fmt.Fprintf(c.errOut, "%s [y/N]: ", question)
	answer, _ := c.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *console) table(header ...string) *tabwriter.Writer {
	return tableTo(c.out, header...)
}

func tableTo(out io.Writer, header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	return w
}

// follow keeps res registered with the coordinator and revalidated on its
// interval until ctx is done, printing the list with render whenever the
// rendered output changes.
func follow[T any](ctx context.Context, c *console, res *reconcile.Resource[T], render func(w io.Writer, items []T) error) error {
	unregister := c.coord.Register(res)
	defer unregister()

	changes, stop := res.Watch()
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.coord.Run(ctx)

	if err := res.Revalidate(ctx); err != nil {
		fmt.Fprintf(c.errOut, "backend unreachable, retrying every %s: %v\n", c.coord.Interval(), err)
	}

	var last string
	for {
		var buf bytes.Buffer
		if err := render(&buf, res.Items()); err != nil {
			return err
		}
		if view := buf.String(); view != last {
			last = view
			fmt.Fprintf(c.out, "-- %s --\n%s", time.Now().Format(time.TimeOnly), view)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
	}
}

func parseId(args []string, name string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, usageErrorf("expected exactly one %s", name)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, usageErrorf("invalid %s %q", name, args[0])
	}
	return id, nil
}
