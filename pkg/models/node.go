package models

import "encoding/json"

// NodeType discriminates the tagged union of graph nodes.
type NodeType string

const (
	NodeTypeTrigger     NodeType = "trigger"
	NodeTypeAction      NodeType = "action"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeFork        NodeType = "fork"
	NodeTypeJoin        NodeType = "join"
	NodeTypeLoop        NodeType = "loop"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeSubworkflow NodeType = "subworkflow"
	NodeTypeApproval    NodeType = "approval"
	NodeTypeEnd         NodeType = "end"
)

// Well-known output port names.
const (
	PortDefault        = "default"
	PortTrue           = "true"
	PortFalse          = "false"
	PortBody           = "body"
	PortExit           = "exit"
	PortApproved       = "approved"
	PortRejected       = "rejected"
	PortOnEachApproval = "on_each_approval"
)

// Reserved node config keys interpreted by the engine.
const (
	ConfigMaxIterations = "maxIterations"
	ConfigDuration      = "duration"
	ConfigWaitEvent     = "waitEvent"
	ConfigWorkflowSlug  = "workflowSlug"
)

// Edge is a named output slot wired to a target node. On the wire an edge may
// be either an object {"port":..., "target":...} or a bare node-id string,
// which is shorthand for the default port.
type Edge struct {
	Port   string `json:"port"`
	Target string `json:"target" validate:"required"`
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	var target string
	if err := json.Unmarshal(data, &target); err == nil {
		e.Port = PortDefault
		e.Target = target

		return nil
	}

	type plain Edge

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	if decoded.Port == "" {
		decoded.Port = PortDefault
	}

	*e = Edge(decoded)

	return nil
}

// Node is a single typed step in a version's graph.
type Node struct {
	Type    NodeType       `json:"type" validate:"required"`
	Config  map[string]any `json:"config,omitempty"`
	Outputs []Edge         `json:"outputs,omitempty"`
}

// OutputsFor returns all edges declared on the given port, in declaration order.
func (n *Node) OutputsFor(port string) []Edge {
	var edges []Edge

	for _, edge := range n.Outputs {
		if edge.Port == port {
			edges = append(edges, edge)
		}
	}

	return edges
}

// ConfigString reads a string config value, "" when absent or not a string.
func (n *Node) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}

	value, _ := n.Config[key].(string)

	return value
}

// ConfigInt reads a numeric config value. JSON decoding yields float64 for all
// numbers, so both forms are accepted.
func (n *Node) ConfigInt(key string) (int, bool) {
	if n.Config == nil {
		return 0, false
	}

	switch value := n.Config[key].(type) {
	case int:
		return value, true
	case int64:
		return int(value), true
	case float64:
		return int(value), true
	default:
		return 0, false
	}
}
