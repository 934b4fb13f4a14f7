package graph

import (
	"fmt"
	"sort"

	"github.com/awalterschulze/gographviz"
)

// Topology describes one join: the components feeding it, the worker pool
// running it and the sinks receiving merged results.
type Topology struct {
	Name       string
	Designated string
	Sources    []string
	Workers    int
	Sinks      []Sink
	Info       map[string]string
}

type Sink struct {
	Name string
	Type string
}

// SinksOf names the emitters which expose a Name, typed by their Type when
// they have one.
func SinksOf(emitters ...interface{}) []Sink {
	var sinks []Sink
	for _, e := range emitters {
		named, ok := e.(interface{ Name() string })
		if !ok {
			continue
		}

		s := Sink{Name: named.Name(), Type: `sink`}
		if typed, ok := e.(interface{ Type() string }); ok {
			s.Type = typed.Type()
		}
		sinks = append(sinks, s)
	}

	return sinks
}

type Graph struct {
	parent   string
	vizGraph *gographviz.Graph
}

func NewGraph() *Graph {
	parent := `root`
	g := gographviz.NewGraph()
	if err := g.SetName(parent); err != nil {
		panic(err)
	}
	if err := g.SetDir(true); err != nil {
		panic(err)
	}

	if err := g.AddAttr(parent, `splines`, `ortho`); err != nil {
		panic(err)
	}

	if err := g.AddNode(parent, `kjoin`, map[string]string{
		`fontcolor`: `grey100`,
		`fillcolor`: `limegreen`,
		`style`:     `filled`,
		`label`:     `"KJoin"`,
	}); err != nil {
		panic(err)
	}

	if err := g.AddNode(parent, `def`, map[string]string{
		`shape`: `plaintext`,
		`label`: `<
     		<table BORDER="0" CELLBORDER="1" CELLSPACING="0">
       			<tr><td WIDTH="50" BGCOLOR="deepskyblue1"></td><td><B>Source</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="slateblue4"></td><td><B>Designated Source</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="brown"></td><td><B>Joiner</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="grey95"></td><td><B>Worker</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="orange"></td><td><B>Sink</B></td></tr>
     		</table>
  >`,
	}); err != nil {
		panic(err)
	}

	return &Graph{
		parent:   parent,
		vizGraph: g,
	}
}

func (g *Graph) Source(name string, designated bool, attrs map[string]string) {
	attrs[`color`] = `black`
	attrs[`fillcolor`] = `deepskyblue1`
	if designated {
		attrs[`fontcolor`] = `grey100`
		attrs[`fillcolor`] = `slateblue4`
	}
	attrs[`style`] = `filled`
	attrs[`shape`] = `oval`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	if err := g.vizGraph.AddEdge(`kjoin`, name, true, nil); err != nil {
		panic(err)
	}
}

func (g *Graph) Joiner(parent string, name string, attrs map[string]string) {
	attrs[`color`] = `brown`
	attrs[`shape`] = `square`
	attrs[`fontsize`] = `11`
	attrs[`style`] = `filled`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	if parent != `` {
		if err := g.vizGraph.AddEdge(parent, name, true, nil); err != nil {
			panic(err)
		}
	}
}

func (g *Graph) Worker(parent string, name string, attrs map[string]string) {
	attrs[`shape`] = `cylinder`
	attrs[`fillcolor`] = `grey95`
	attrs[`style`] = `filled`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	if err := g.vizGraph.AddEdge(parent, name, true, map[string]string{`style`: `dashed`}); err != nil {
		panic(err)
	}
}

func (g *Graph) Sink(parent string, name string, attrs map[string]string) {
	attrs[`color`] = `black`
	attrs[`fillcolor`] = `orange`
	attrs[`style`] = `filled`
	attrs[`shape`] = `oval`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	if parent != `` {
		if err := g.vizGraph.AddEdge(parent, name, true, nil); err != nil {
			panic(err)
		}
	}
}

func (g *Graph) Edge(parent string, name string, attrs map[string]string) {
	if err := g.vizGraph.AddEdge(parent, name, true, attrs); err != nil {
		panic(err)
	}
}

// RenderTopology draws sources -> joiner -> workers -> sinks.
func (g *Graph) RenderTopology(t Topology) {
	joinNode := nodeName(`join`, t.Name)

	for _, source := range t.Sources {
		g.Source(nodeName(`source`, source), source == t.Designated, map[string]string{
			`label`: quote(nodeInfo(`source`, source, nil)),
		})
	}

	g.Joiner(``, joinNode, map[string]string{
		`label`: quote(nodeInfo(`join`, t.Name, t.Info)),
	})

	for _, source := range t.Sources {
		attrs := map[string]string{}
		if source == t.Designated {
			attrs[`label`] = `< <B>return-info</B> >`
		} else {
			attrs[`label`] = `< <B>result</B> >`
		}
		g.Edge(nodeName(`source`, source), joinNode, attrs)
	}

	for i := 0; i < t.Workers; i++ {
		g.Worker(joinNode, nodeName(`worker`, fmt.Sprintf(`%s_%d`, t.Name, i)), map[string]string{
			`label`: quote(fmt.Sprintf(`worker %d`, i)),
		})
	}

	for _, sink := range t.Sinks {
		g.Sink(joinNode, nodeName(`sink`, sink.Name), map[string]string{
			`label`: quote(nodeInfo(sink.Type, sink.Name, nil)),
		})
	}
}

func (g *Graph) Build() string {
	return g.vizGraph.String()
}

func nodeName(typ, name string) string {
	return fmt.Sprintf(`%q`, typ+`_`+name)
}

func quote(s string) string {
	return `"` + s + `"`
}

func nodeInfo(typ string, name string, info map[string]string) string {
	str := fmt.Sprintf(`type:%s\nname:%s\n`, typ, name)

	keys := make([]string, 0, len(info))
	for p := range info {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, p := range keys {
		str += fmt.Sprintf(`%s:%s \n`, p, info[p])
	}

	return str
}
