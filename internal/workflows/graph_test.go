package workflows_test

import (
	"bytes"
	"strings"
	"testing"

	"lab-console/internal/validation"
	"lab-console/internal/workflows"
	"lab-console/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValidate(t *testing.T) {
	require.NoError(t, workflows.Validate(sampleDefinition(), nil))
	require.NoError(t, workflows.Validate(api.WorkflowDefinition{}, nil))

	tests := []struct {
		name   string
		mutate func(def *api.WorkflowDefinition)
		field  string
	}{
		{"empty id", func(def *api.WorkflowDefinition) { def.Nodes[1].Id = "" }, "nodes"},
		{"duplicate id", func(def *api.WorkflowDefinition) { def.Nodes[2].Id = "train" }, "nodes"},
		{"empty kind", func(def *api.WorkflowDefinition) { def.Nodes[0].Kind = "" }, "kind"},
		{"dangling edge", func(def *api.WorkflowDefinition) { def.Nodes[2].Out = []api.Edge{{To: "nowhere"}} }, "edges"},
		{"self loop", func(def *api.WorkflowDefinition) { def.Nodes[1].Out = []api.Edge{{To: "eval"}} }, "edges"},
		{"cycle", func(def *api.WorkflowDefinition) { def.Nodes[2].Out = []api.Edge{{To: "train"}} }, "edges"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def := sampleDefinition()
			tc.mutate(&def)
			err := workflows.Validate(def, nil)
			require.Error(t, err)
			var verr *validation.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateReportsCyclePath(t *testing.T) {
	def := sampleDefinition()
	def.Nodes[2].Out = []api.Edge{{To: "eval"}}
	err := workflows.Validate(def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eval -> export -> eval")
}

func TestValidateUsesResolver(t *testing.T) {
	err := workflows.Validate(sampleDefinition(), workflows.Kinds("trainer"))
	assert.True(t, validation.Is(err))

	resolver := workflows.KindResolverFunc(func(kind string) bool { return strings.HasSuffix(kind, "er") || kind == "llm-judge" })
	assert.NoError(t, workflows.Validate(sampleDefinition(), resolver))
}

func TestTopologicalOrder(t *testing.T) {
	def := api.WorkflowDefinition{Nodes: []api.WorkflowNode{
		{Id: "c", Kind: "k"},
		{Id: "a", Kind: "k", Out: []api.Edge{{To: "c"}, {To: "b"}}},
		{Id: "b", Kind: "k", Out: []api.Edge{{To: "c"}}},
	}}
	order, err := workflows.TopologicalOrder(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)

	def.Nodes[0].Out = []api.Edge{{To: "a"}}
	_, err = workflows.TopologicalOrder(def)
	assert.True(t, validation.Is(err))
}

func TestViewAsCode(t *testing.T) {
	wf := api.Workflow{Config: `{"nodes":[{"id":"a","kind":"trainer"}]}`}
	assert.Equal(t, "{\n  \"nodes\": [\n    {\n      \"id\": \"a\",\n      \"kind\": \"trainer\"\n    }\n  ]\n}", workflows.ViewAsCode(wf))

	assert.Equal(t, "{}", workflows.ViewAsCode(api.Workflow{Config: "not json"}))
	assert.Equal(t, "{}", workflows.ViewAsCode(api.Workflow{}))
}

func TestViewAsYAML(t *testing.T) {
	config, err := workflows.Encode(sampleDefinition())
	require.NoError(t, err)

	out := workflows.ViewAsYAML(api.Workflow{Config: config})
	var decoded api.WorkflowDefinition
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Nodes, 3)
	assert.Equal(t, "train", decoded.Nodes[0].Id)
	assert.Equal(t, "score > 0.8", decoded.Nodes[1].Out[0].Condition)

	assert.Equal(t, "{}\n", workflows.ViewAsYAML(api.Workflow{Config: "not json"}))
}

func TestWriteDot(t *testing.T) {
	config, err := workflows.Encode(sampleDefinition())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, workflows.WriteDot(&buf, api.Workflow{Name: "pipeline", Config: config}))

	dot := buf.String()
	assert.True(t, strings.HasPrefix(dot, `digraph "pipeline" {`))
	assert.Contains(t, dot, `"train" [label="{Fine tune|trainer}"];`)
	assert.Contains(t, dot, `"export" [label="{exporter}"];`)
	assert.Contains(t, dot, `"train" -> "eval";`)
	assert.Contains(t, dot, `"eval" -> "export" [label="score > 0.8"];`)
	assert.True(t, strings.HasSuffix(dot, "}\n"))
}
