package workflows

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"lab-console/pkg/api"

	"gopkg.in/yaml.v3"
)

// ViewAsCode pretty prints the stored graph definition. Configs that do not
// parse are shown as "{}".
func ViewAsCode(wf api.Workflow) string {
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(wf.Config), "", "  "); err != nil {
		return "{}"
	}
	return out.String()
}

func ViewAsYAML(wf api.Workflow) string {
	var def api.WorkflowDefinition
	if err := json.Unmarshal([]byte(wf.Config), &def); err != nil {
		return "{}\n"
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return "{}\n"
	}
	return string(data)
}

func dotQuote(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// WriteDot renders the workflow graph in Graphviz DOT.
func WriteDot(w io.Writer, wf api.Workflow) error {
	def := wf.Definition()

	if _, err := fmt.Fprintf(w, `digraph "%s" {
	node [shape=record fontsize=10]
	edge [fontsize=10]

`, dotQuote(wf.Name)); err != nil {
		return err
	}

	for _, node := range def.Nodes {
		label := node.Kind
		if node.Name != "" {
			label = node.Name + `|` + node.Kind
		}
		if _, err := fmt.Fprintf(w, "\t\"%s\" [label=\"{%s}\"];\n", dotQuote(node.Id), dotQuote(label)); err != nil {
			return err
		}
	}

	for _, node := range def.Nodes {
		for _, edge := range node.Out {
			label := ""
			if edge.Condition != "" {
				label = fmt.Sprintf(` [label="%s"]`, dotQuote(edge.Condition))
			}
			if _, err := fmt.Fprintf(w, "\t\"%s\" -> \"%s\"%s;\n", dotQuote(node.Id), dotQuote(edge.To), label); err != nil {
				return err
			}
		}
	}

	_, err := io.WriteString(w, "}\n")
	return err
}
