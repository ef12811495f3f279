package engine

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
)

var nodeNameReplacer = strings.NewReplacer(`-`, `_`, `.`, `_`, ` `, `_`, `:`, `_`, `/`, `_`)

func nodeName(prefix, name string) string {
	return prefix + `_` + nodeNameReplacer.Replace(name)
}

// Graph renders source topic, stage, sink and checkpoint store as a DOT digraph.
func (e *Engine) Graph() (string, error) {
	root := `windowsync`
	g := gographviz.NewGraph()
	if err := g.SetName(root); err != nil {
		return ``, err
	}

	if err := g.SetDir(true); err != nil {
		return ``, err
	}

	if err := g.AddAttr(root, `rankdir`, `LR`); err != nil {
		return ``, err
	}

	source := nodeName(`source`, e.config.Topic)
	stage := nodeName(`stage`, e.config.Name)
	store := nodeName(`store`, e.config.Checkpoints.Name())

	nodes := []struct {
		name  string
		attrs map[string]string
	}{
		{source, map[string]string{
			`label`:     fmt.Sprintf(`"%s[%d]"`, e.config.Topic, e.config.Partition),
			`fillcolor`: `deepskyblue1`,
			`style`:     `filled`,
			`shape`:     `oval`,
		}},
		{stage, map[string]string{
			`label`:     fmt.Sprintf(`"%s"`, e.config.Name),
			`fontcolor`: `grey100`,
			`fillcolor`: `slateblue4`,
			`style`:     `filled`,
			`shape`:     `rectangle`,
		}},
		{store, map[string]string{
			`label`:     fmt.Sprintf(`"%s"`, e.config.Checkpoints.Name()),
			`fillcolor`: `grey95`,
			`style`:     `filled`,
			`shape`:     `cylinder`,
		}},
	}

	for _, n := range nodes {
		if err := g.AddNode(root, n.name, n.attrs); err != nil {
			return ``, err
		}
	}

	if err := g.AddEdge(source, stage, true, nil); err != nil {
		return ``, err
	}

	if err := g.AddEdge(stage, store, true, map[string]string{
		`style`: `dashed`,
		`label`: fmt.Sprintf(`"every %d windows"`, e.config.CheckpointWindowCount),
	}); err != nil {
		return ``, err
	}

	if e.config.Sink != `` {
		sink := nodeName(`sink`, e.config.Sink)
		if err := g.AddNode(root, sink, map[string]string{
			`label`:     fmt.Sprintf(`"%s"`, e.config.Sink),
			`fillcolor`: `orange`,
			`style`:     `filled`,
			`shape`:     `oval`,
		}); err != nil {
			return ``, err
		}

		if err := g.AddEdge(stage, sink, true, map[string]string{`label`: `"committed"`}); err != nil {
			return ``, err
		}
	}

	return g.String(), nil
}
