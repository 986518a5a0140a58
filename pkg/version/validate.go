package version

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationReport is the outcome of validating a version's graph. Errors
// block publishing; warnings do not.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationReport) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationReport) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// configSchemas holds per-node-type JSON schemas applied to node configs.
// Schema violations surface as warnings, not errors, because config shapes
// are extensible.
var configSchemas = map[models.NodeType]string{
	models.NodeTypeDelay: `{
		"type": "object",
		"properties": {
			"duration":  {"type": "string", "minLength": 1},
			"waitEvent": {"type": "string"}
		},
		"anyOf": [{"required": ["duration"]}, {"required": ["waitEvent"]}]
	}`,
	models.NodeTypeSubworkflow: `{
		"type": "object",
		"properties": {
			"workflowSlug": {"type": "string", "minLength": 1},
			"input":        {"type": "object"}
		},
		"required": ["workflowSlug"]
	}`,
	models.NodeTypeApproval: `{
		"type": "object",
		"properties": {
			"approvalType":    {"enum": ["threshold", "unanimous", "any_one", "chain"]},
			"threshold":       {"type": "object"},
			"approvers":       {"type": "object", "required": ["type"]},
			"allowDelegation": {"type": "boolean"}
		},
		"required": ["approvers"]
	}`,
	models.NodeTypeAction: `{
		"type": "object",
		"properties": {
			"actions": {
				"type": "array",
				"items": {"type": "object", "required": ["type"]}
			}
		},
		"required": ["actions"]
	}`,
}

// Validate runs every structural rule against the version's graph. All rules
// are evaluated; the report lists every violation, not just the first.
func Validate(version *models.WorkflowVersion) *ValidationReport {
	report := &ValidationReport{}

	if len(version.Nodes) == 0 {
		report.addError("graph has no nodes")

		return report
	}

	var triggers, ends []string

	for id, node := range version.Nodes {
		switch node.Type {
		case models.NodeTypeTrigger:
			triggers = append(triggers, id)
		case models.NodeTypeEnd:
			ends = append(ends, id)
		case models.NodeTypeLoop:
			if iterations, ok := node.ConfigInt(models.ConfigMaxIterations); !ok || iterations <= 0 {
				report.addError("loop node %s requires a positive %s", id, models.ConfigMaxIterations)
			}
		}

		for _, edge := range node.Outputs {
			if _, exists := version.Nodes[edge.Target]; !exists {
				report.addError("node %s has an edge to unknown node %s", id, edge.Target)
			}
		}

		checkConfigSchema(report, id, node)
	}

	switch len(triggers) {
	case 1:
	case 0:
		report.addError("graph has no trigger node")
	default:
		report.addError("graph has %d trigger nodes, expected exactly one", len(triggers))
	}

	if len(ends) == 0 {
		report.addError("graph has no end node")
	}

	if len(triggers) == 1 {
		for _, id := range unreachableFrom(version, triggers[0]) {
			report.addError("node %s is unreachable from the trigger", id)
		}
	}

	report.Valid = len(report.Errors) == 0

	return report
}

func checkConfigSchema(report *ValidationReport, nodeID string, node *models.Node) {
	schema, ok := configSchemas[node.Type]
	if !ok {
		return
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	encoded, err := json.Marshal(config)
	if err != nil {
		report.addWarning("node %s config could not be encoded: %v", nodeID, err)

		return
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(encoded),
	)
	if err != nil {
		report.addWarning("node %s config schema check failed: %v", nodeID, err)

		return
	}

	for _, violation := range result.Errors() {
		report.addWarning("node %s config: %s", nodeID, violation.String())
	}
}

// unreachableFrom returns node ids not reachable from start by breadth-first
// traversal of declared edges, sorted for stable reporting.
func unreachableFrom(version *models.WorkflowVersion, start string) []string {
	visited := map[string]bool{start: true}
	frontier := []string{start}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		node, ok := version.Nodes[current]
		if !ok {
			continue
		}

		for _, edge := range node.Outputs {
			if !visited[edge.Target] {
				visited[edge.Target] = true
				frontier = append(frontier, edge.Target)
			}
		}
	}

	var unreachable []string

	for id := range version.Nodes {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}

	sort.Strings(unreachable)

	return unreachable
}
