package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"lab-console/internal/reconcile"
	"lab-console/internal/validation"
	"lab-console/pkg/api"

	"github.com/google/uuid"
)

var (
	ErrWorkflowRunning = errors.New("workflow is running")
	ErrNotConfirmed    = errors.New("delete was not confirmed")
)

type Client interface {
	ListWorkflows(ctx context.Context, experimentId uuid.UUID) ([]api.Workflow, error)
	CreateWorkflow(ctx context.Context, req api.CreateWorkflowRequest) (uuid.UUID, error)
	UpdateWorkflowConfig(ctx context.Context, workflowId uuid.UUID, config string) error
	RunWorkflow(ctx context.Context, workflowId uuid.UUID) error
	DeleteWorkflow(ctx context.Context, workflowId uuid.UUID) error
}

// Confirmer asks the user to confirm deleting a workflow and its nodes.
type Confirmer func(wf api.Workflow) bool

// NodeSpec describes a node to add. Without After the node is chained after
// the current last node; Detached adds it with no incoming edge.
type NodeSpec struct {
	Id         string
	Kind       string
	Name       string
	Parameters map[string]any
	After      string
	Condition  string
	Detached   bool
}

// Model is the local view of an experiment's workflows.
type Model struct {
	client       Client
	coord        *reconcile.Coordinator
	resolver     KindResolver
	experimentId uuid.UUID

	list      *reconcile.Resource[api.Workflow]
	selection reconcile.Selection[uuid.UUID]
}

// NewModel creates the model for the workflows of experimentId, or of every
// experiment when it is uuid.Nil.
func NewModel(client Client, coord *reconcile.Coordinator, resolver KindResolver, experimentId uuid.UUID) *Model {
	if resolver == nil {
		resolver = AnyKind
	}
	m := &Model{
		client:       client,
		coord:        coord,
		resolver:     resolver,
		experimentId: experimentId,
	}
	m.list = reconcile.NewResource("workflows", func(ctx context.Context) ([]api.Workflow, error) {
		return client.ListWorkflows(ctx, experimentId)
	})
	reconcile.Track(m.list, &m.selection, func(wf api.Workflow) uuid.UUID { return wf.Id })
	return m
}

func (m *Model) Name() string {
	return m.list.Name()
}

func (m *Model) Revalidate(ctx context.Context) error {
	return m.list.Revalidate(ctx)
}

func (m *Model) Resource() *reconcile.Resource[api.Workflow] {
	return m.list
}

func (m *Model) Workflows() []api.Workflow {
	return m.list.Items()
}

func (m *Model) Refresh(ctx context.Context) ([]api.Workflow, error) {
	snap, _, err := m.list.Poll(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Items, nil
}

func (m *Model) Find(id uuid.UUID) (api.Workflow, bool) {
	for _, wf := range m.list.Items() {
		if wf.Id == id {
			return wf, true
		}
	}
	return api.Workflow{}, false
}

func (m *Model) Select(id uuid.UUID) {
	m.selection.Select(id)
}

// Selected returns the selected workflow as last seen by a poll.
func (m *Model) Selected() (api.Workflow, bool) {
	id, ok := m.selection.Selected()
	if !ok {
		return api.Workflow{}, false
	}
	return m.Find(id)
}

func (m *Model) ClearSelection() {
	m.selection.Clear()
}

// latest is the most recently polled copy of wf, or wf itself when the
// cached list does not have it.
func (m *Model) latest(wf api.Workflow) api.Workflow {
	if latest, ok := m.Find(wf.Id); ok {
		return latest
	}
	return wf
}

func (m *Model) status(wf api.Workflow) api.WorkflowStatus {
	return m.latest(wf).Status
}

// Create validates def and submits a new workflow. Invalid definitions are
// rejected without contacting the backend.
func (m *Model) Create(ctx context.Context, experimentId uuid.UUID, name string, def api.WorkflowDefinition) (api.Workflow, error) {
	if strings.TrimSpace(name) == "" {
		return api.Workflow{}, validation.Errorf("name", "workflow name must not be empty")
	}
	if err := Validate(def, m.resolver); err != nil {
		return api.Workflow{}, err
	}

	config, err := Encode(def)
	if err != nil {
		return api.Workflow{}, err
	}

	var id uuid.UUID
	err = m.coord.Mutate(ctx, "create workflow", func(ctx context.Context) error {
		var err error
		id, err = m.client.CreateWorkflow(ctx, api.CreateWorkflowRequest{
			ExperimentId: experimentId,
			Name:         name,
			Config:       config,
		})
		return err
	}, m)
	if err != nil {
		return api.Workflow{}, fmt.Errorf("error creating workflow %q: %w", name, err)
	}

	if wf, ok := m.Find(id); ok {
		return wf, nil
	}
	return api.Workflow{
		Id:           id,
		ExperimentId: experimentId,
		Name:         name,
		Status:       api.WorkflowIdle,
		Config:       config,
	}, nil
}

// editable returns the definition an edit of wf starts from, taken from the
// latest polled copy. Running workflows and stored graphs that do not parse
// are not edited.
func (m *Model) editable(wf api.Workflow) (api.WorkflowDefinition, error) {
	current := m.latest(wf)
	if current.Status == api.WorkflowRunning {
		return api.WorkflowDefinition{}, fmt.Errorf("%w: %v cannot be edited until it finishes", ErrWorkflowRunning, wf.Id)
	}
	def, err := current.ParseDefinition()
	if err != nil {
		return api.WorkflowDefinition{}, validation.Errorf("config", "stored graph is unreadable: %v", err)
	}
	return def, nil
}

// AddNode appends a node and stores the recomputed graph. It is rejected
// while the workflow is running.
func (m *Model) AddNode(ctx context.Context, wf api.Workflow, spec NodeSpec) (api.Workflow, error) {
	def, err := m.editable(wf)
	if err != nil {
		return wf, err
	}

	node := api.WorkflowNode{
		Id:         spec.Id,
		Kind:       spec.Kind,
		Name:       spec.Name,
		Parameters: spec.Parameters,
	}
	if node.Id == "" {
		node.Id = uuid.NewString()
	}

	nodes := slices.Clone(def.Nodes)
	if !spec.Detached {
		parent := spec.After
		if parent == "" && len(nodes) > 0 {
			parent = nodes[len(nodes)-1].Id
		}
		if parent != "" {
			idx := slices.IndexFunc(nodes, func(n api.WorkflowNode) bool { return n.Id == parent })
			if idx < 0 {
				return wf, validation.Errorf("after", "node %q does not exist", parent)
			}
			nodes[idx].Out = append(slices.Clone(nodes[idx].Out), api.Edge{To: node.Id, Condition: spec.Condition})
		}
	}
	nodes = append(nodes, node)

	return m.store(ctx, wf, api.WorkflowDefinition{Nodes: nodes}, "add node")
}

// RemoveNode drops a node together with every edge pointing at it.
func (m *Model) RemoveNode(ctx context.Context, wf api.Workflow, nodeId string) (api.Workflow, error) {
	def, err := m.editable(wf)
	if err != nil {
		return wf, err
	}

	nodes := make([]api.WorkflowNode, 0, len(def.Nodes))
	found := false
	for _, node := range def.Nodes {
		if node.Id == nodeId {
			found = true
			continue
		}
		node.Out = slices.DeleteFunc(slices.Clone(node.Out), func(e api.Edge) bool { return e.To == nodeId })
		nodes = append(nodes, node)
	}
	if !found {
		return wf, validation.Errorf("node", "node %q does not exist", nodeId)
	}

	return m.store(ctx, wf, api.WorkflowDefinition{Nodes: nodes}, "remove node")
}

func (m *Model) store(ctx context.Context, wf api.Workflow, def api.WorkflowDefinition, op string) (api.Workflow, error) {
	if err := Validate(def, m.resolver); err != nil {
		return wf, err
	}
	config, err := Encode(def)
	if err != nil {
		return wf, err
	}

	err = m.coord.Mutate(ctx, op, func(ctx context.Context) error {
		return m.client.UpdateWorkflowConfig(ctx, wf.Id, config)
	}, m)
	if err != nil {
		return wf, fmt.Errorf("error updating workflow %v: %w", wf.Id, err)
	}

	if latest, ok := m.Find(wf.Id); ok {
		return latest, nil
	}
	wf.Config = config
	return wf, nil
}

// Run asks the backend to run wf. The local view shows it as RUNNING until
// the next poll reports the real status.
func (m *Model) Run(ctx context.Context, wf api.Workflow) error {
	if m.status(wf) == api.WorkflowRunning {
		return fmt.Errorf("%w: %v", ErrWorkflowRunning, wf.Id)
	}

	m.list.Optimistic(func(items []api.Workflow) []api.Workflow {
		for i := range items {
			if items[i].Id == wf.Id {
				items[i].Status = api.WorkflowRunning
			}
		}
		return items
	})

	return m.coord.Mutate(ctx, "run workflow", func(ctx context.Context) error {
		return m.client.RunWorkflow(ctx, wf.Id)
	}, m)
}

// Delete removes wf and all its nodes once confirm approves. Any selection
// pointing at wf is cleared before the request is sent.
func (m *Model) Delete(ctx context.Context, wf api.Workflow, confirm Confirmer) error {
	if confirm == nil || !confirm(wf) {
		return ErrNotConfirmed
	}

	if m.selection.ClearIf(wf.Id) {
		slog.Debug("cleared selection of deleted workflow", "workflow_id", wf.Id)
	}
	m.list.Optimistic(func(items []api.Workflow) []api.Workflow {
		return slices.DeleteFunc(items, func(w api.Workflow) bool { return w.Id == wf.Id })
	})

	return m.coord.Mutate(ctx, "delete workflow", func(ctx context.Context) error {
		return m.client.DeleteWorkflow(ctx, wf.Id)
	}, m)
}
