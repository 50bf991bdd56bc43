package service

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// Designer graph shapes. The visual designer is an external collaborator;
// this is the on-the-wire form it submits for publishing.

// DesignerNodeType discriminates the node kinds a designer graph may contain.
type DesignerNodeType string

const (
	DesignerNodeStart     DesignerNodeType = "START"
	DesignerNodeApprover  DesignerNodeType = "APPROVER"
	DesignerNodeCondition DesignerNodeType = "CONDITION"
)

// DesignerNode is one node of the visual DAG.
type DesignerNode struct {
	ID             string                   `json:"id"`
	Type           DesignerNodeType         `json:"type"`
	Name           string                   `json:"name"`
	Expression     string                   `json:"expression,omitempty"` // condition nodes
	ApproverType   repository.ApproverType  `json:"approverType,omitempty"`
	ApproverUserID *string                  `json:"approverUserId,omitempty"`
	ApproverRole   *string                  `json:"approverRole,omitempty"`
	ApproverMode   repository.ApproverMode  `json:"approverMode,omitempty"`
	MinAmount      *int64                   `json:"minAmount,omitempty"`
	MaxAmount      *int64                   `json:"maxAmount,omitempty"`
	TimeoutHours   int                      `json:"timeoutHours,omitempty"`
	TimeoutAction  repository.TimeoutAction `json:"timeoutAction,omitempty"`
}

// DesignerEdge connects two designer nodes.
type DesignerEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DesignerGraph is the full graph submitted for publishing.
type DesignerGraph struct {
	Nodes []DesignerNode `json:"nodes"`
	Edges []DesignerEdge `json:"edges"`
}

// FlowPublishService turns designer graphs into published linear node lists.
type FlowPublishService struct {
	flows FlowStore
	log   *logger.Logger
}

// NewFlowPublishService creates a new FlowPublishService.
func NewFlowPublishService(flows FlowStore, log *logger.Logger) *FlowPublishService {
	return &FlowPublishService{flows: flows, log: log}
}

// PublishFlowRequest carries one flow definition to publish.
type PublishFlowRequest struct {
	Code  string
	Name  string
	Graph DesignerGraph
}

// Publish flattens the graph, validates the result and replaces the flow's
// node set. The old nodes are discarded wholesale — published nodes are
// immutable except via full republish.
func (s *FlowPublishService) Publish(ctx context.Context, tenantID string, req *PublishFlowRequest) (*repository.Flow, error) {
	if req.Code == "" {
		return nil, errors.InvalidInput("code", "flow code is required")
	}

	nodes, err := FlattenGraph(req.Graph)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.InvalidInput("graph", "graph has no reachable approver nodes")
	}
	if err := s.validateNodes(nodes); err != nil {
		return nil, err
	}

	flow := &repository.Flow{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		IsActive: true,
	}
	if err := s.flows.Publish(ctx, flow, nodes); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("flow_code", flow.Code).
		Int("node_count", len(nodes)).
		Msg("Approval flow published")

	return flow, nil
}

// validateNodes rejects configurations that would stall an instance with no
// task to act on. Role nodes only warn — membership is resolved at runtime.
func (s *FlowPublishService) validateNodes(nodes []*repository.FlowNode) error {
	for _, node := range nodes {
		switch node.ApproverType {
		case repository.ApproverTypeUser:
			if node.ApproverUserID == nil || *node.ApproverUserID == "" {
				return errors.InvalidInput("graph",
					fmt.Sprintf("approver node %q has no approver user", node.Name))
			}
		case repository.ApproverTypeRole:
			if node.ApproverRole == nil || *node.ApproverRole == "" {
				return errors.InvalidInput("graph",
					fmt.Sprintf("approver node %q has no approver role", node.Name))
			}
		case repository.ApproverTypeCreatorManager:
			// Resolved against the requester at submit time.
		default:
			return errors.InvalidInput("graph",
				fmt.Sprintf("approver node %q has unknown approver type %q", node.Name, node.ApproverType))
		}

		switch node.ApproverMode {
		case repository.ApproverModeAny, repository.ApproverModeAll, repository.ApproverModeMajority:
		default:
			return errors.InvalidInput("graph",
				fmt.Sprintf("approver node %q has unknown approver mode %q", node.Name, node.ApproverMode))
		}
	}
	return nil
}

// FlattenGraph converts the designer DAG into an ordered linear node list.
//
// Breadth-first traversal from the START node. Each node id is dequeued at
// most once, so cycles in the input cannot loop the traversal. Condition
// nodes never materialize a row: their parsed predicate is carried forward
// and attached to the next approver node reached on that path. The sort
// order is the materialization order of approver nodes, not queue position.
//
// Returns an empty list when the graph has no START node.
func FlattenGraph(graph DesignerGraph) ([]*repository.FlowNode, error) {
	byID := lo.KeyBy(graph.Nodes, func(n DesignerNode) string { return n.ID })

	successors := make(map[string][]string, len(graph.Edges))
	for _, e := range graph.Edges {
		successors[e.From] = append(successors[e.From], e.To)
	}

	start, ok := lo.Find(graph.Nodes, func(n DesignerNode) bool { return n.Type == DesignerNodeStart })
	if !ok {
		return nil, nil
	}

	type queueItem struct {
		nodeID  string
		carried []repository.Condition
	}

	queue := []queueItem{{nodeID: start.ID}}
	visited := map[string]bool{}
	var flattened []*repository.FlowNode
	sortOrder := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if visited[item.nodeID] {
			continue
		}
		visited[item.nodeID] = true

		node, ok := byID[item.nodeID]
		if !ok {
			continue // edge pointing at a node the designer deleted
		}

		carried := item.carried

		switch node.Type {
		case DesignerNodeStart:
			// Traversal root only.

		case DesignerNodeCondition:
			cond, err := ParseConditionExpression(node.Expression)
			if err != nil {
				return nil, err
			}
			carried = append(append([]repository.Condition{}, carried...), cond)

		case DesignerNodeApprover:
			sortOrder++
			flattened = append(flattened, &repository.FlowNode{
				SortOrder:      sortOrder,
				Name:           node.Name,
				ApproverType:   node.ApproverType,
				ApproverUserID: node.ApproverUserID,
				ApproverRole:   node.ApproverRole,
				ApproverMode:   defaultMode(node.ApproverMode),
				Conditions:     carried,
				MinAmount:      node.MinAmount,
				MaxAmount:      node.MaxAmount,
				TimeoutHours:   node.TimeoutHours,
				TimeoutAction:  defaultTimeoutAction(node.TimeoutAction),
			})
			// Conditions bind to the first approver node on the path only.
			carried = nil

		default:
			return nil, errors.InvalidInput("graph",
				fmt.Sprintf("unknown designer node type %q", node.Type))
		}

		for _, next := range successors[node.ID] {
			queue = append(queue, queueItem{nodeID: next, carried: carried})
		}
	}

	return flattened, nil
}

func defaultMode(mode repository.ApproverMode) repository.ApproverMode {
	if mode == "" {
		return repository.ApproverModeAny
	}
	return mode
}

func defaultTimeoutAction(action repository.TimeoutAction) repository.TimeoutAction {
	if action == "" {
		return repository.TimeoutActionRemind
	}
	return action
}
