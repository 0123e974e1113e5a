package graph

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MetOffice/dagrunner/types"
)

// yamlGraph is the top-level structure of a graph YAML definition.
//
//	name: forecast
//	description: Nowcast product graph
//	nodes:
//	  - id: fetch
//	    descriptor: {plugin: fetch, args: {source: mo-obs}}
//	  - id: regrid
//	    dependencies: [fetch]
//	    descriptor: {plugin: regrid}
//
// A node's descriptor is an opaque YAML value; it is decoded as-is
// (mappings become map[string]any) and handed to the executor untouched.
type yamlGraph struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Nodes       []yamlNode `yaml:"nodes"`
}

type yamlNode struct {
	ID           string         `yaml:"id"`
	Dependencies []string       `yaml:"dependencies"`
	Descriptor   any            `yaml:"descriptor"`
	Metadata     map[string]any `yaml:"metadata"`
}

// ParseYAML builds a graph from a YAML definition. The result goes
// through the same builder and validation path as programmatic
// construction, so unknown dependencies and cycles are rejected.
func ParseYAML(data []byte) (*Graph, error) {
	var def yamlGraph
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.WrapError(types.GRAPH_PARSE_FAILED, "failed to parse graph YAML", err)
	}
	if def.Name == "" {
		return nil, types.NewError(types.GRAPH_PARSE_FAILED, "graph definition must have a name")
	}

	b := New(def.Name).WithDescription(def.Description)
	for _, n := range def.Nodes {
		b.AddNode(n.ID, n.Descriptor)
		if n.Metadata != nil {
			b.WithNodeMetadata(n.ID, n.Metadata)
		}
	}
	// Dependencies are wired after all nodes exist so that declaration
	// order in the file does not matter.
	for _, n := range def.Nodes {
		b.DependsOn(n.ID, n.Dependencies...)
	}

	return b.Build()
}

// LoadYAML builds a graph from a YAML definition read from r.
func LoadYAML(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, types.WrapError(types.GRAPH_PARSE_FAILED, "failed to read graph YAML", err)
	}
	return ParseYAML(data)
}

// LoadYAMLFile builds a graph from a YAML definition file on disk.
func LoadYAMLFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.GRAPH_PARSE_FAILED,
			fmt.Sprintf("failed to read graph file %s", path), err)
	}
	return ParseYAML(data)
}
