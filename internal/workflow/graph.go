// Package workflow is the intent-routing state machine. A run starts at the
// router, executes one step per node, merges each step's StateUpdate into the
// conversation state and follows the node's routing function until a terminal
// node hands over to End.
package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/analysis"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/intent"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("workflow")

// Node identifies a workflow step.
type Node string

const (
	NodeRouter            Node = "router"
	NodeTransactionQuery  Node = "transaction_query"
	NodeAssistant         Node = "assistant"
	NodeFinalizeAssistant Node = "finalize_assistant"
	NodeAnalyze           Node = "analyze_transactions"
	NodeRetrieve          Node = "retrieve_laws"
	NodeDraftLetter       Node = "draft_letter"
	NodeCompose           Node = "compose"
	NodeEnd               Node = "end"
)

// Nodes lists every executable node.
var Nodes = []Node{
	NodeRouter,
	NodeTransactionQuery,
	NodeAssistant,
	NodeFinalizeAssistant,
	NodeAnalyze,
	NodeRetrieve,
	NodeDraftLetter,
	NodeCompose,
}

type stepFunc func(r *run, ctx context.Context, s domain.ConversationState) (domain.StateUpdate, error)

type routeFunc func(s domain.ConversationState) Node

// nodeSpec binds a node to its step, its routing function and the complete
// set of nodes the routing function may return.
type nodeSpec struct {
	step  stepFunc
	route routeFunc
	next  []Node
}

var graph = map[Node]nodeSpec{
	NodeRouter: {
		step:  (*run).router,
		route: routeAfterRouter,
		next:  []Node{NodeTransactionQuery, NodeAssistant, NodeAnalyze, NodeRetrieve},
	},
	NodeTransactionQuery: {
		step:  (*run).transactionQuery,
		route: toEnd,
		next:  []Node{NodeEnd},
	},
	NodeAssistant: {
		step:  (*run).assistant,
		route: func(domain.ConversationState) Node { return NodeFinalizeAssistant },
		next:  []Node{NodeFinalizeAssistant},
	},
	NodeFinalizeAssistant: {
		step:  (*run).finalizeAssistant,
		route: toEnd,
		next:  []Node{NodeEnd},
	},
	NodeAnalyze: {
		step:  (*run).analyze,
		route: routeAfterAnalysis,
		next:  []Node{NodeRetrieve, NodeCompose},
	},
	NodeRetrieve: {
		step:  (*run).retrieve,
		route: routeAfterRetrieve,
		next:  []Node{NodeDraftLetter, NodeCompose},
	},
	NodeDraftLetter: {
		step:  (*run).draftLetter,
		route: func(domain.ConversationState) Node { return NodeCompose },
		next:  []Node{NodeCompose},
	},
	NodeCompose: {
		step:  (*run).compose,
		route: toEnd,
		next:  []Node{NodeEnd},
	},
}

func toEnd(domain.ConversationState) Node { return NodeEnd }

func routeAfterRouter(s domain.ConversationState) Node {
	switch s.Intent {
	case domain.IntentTransactionQuery:
		return NodeTransactionQuery
	case domain.IntentAnalyzeTransactions:
		return NodeAnalyze
	case domain.IntentRetrieveLaws, domain.IntentDraftLetter:
		return NodeRetrieve
	default:
		return NodeAssistant
	}
}

func routeAfterAnalysis(s domain.ConversationState) Node {
	switch {
	case s.WantsLetter:
		return NodeRetrieve
	case s.WantsRetrieval && len(s.Analysis) > 0:
		return NodeRetrieve
	default:
		return NodeCompose
	}
}

func routeAfterRetrieve(s domain.ConversationState) Node {
	if s.WantsLetter {
		return NodeDraftLetter
	}
	return NodeCompose
}

// Validate checks that every node has a step and a routing function, that
// every declared transition targets a known node, that the graph is acyclic
// from the router and that every node is reachable.
func Validate() error {
	return validate(graph, NodeRouter)
}

func validate(specs map[Node]nodeSpec, entry Node) error {
	for _, n := range Nodes {
		spec, ok := specs[n]
		if !ok {
			return &domain.ErrWorkflow{Node: string(n), Reason: "node has no definition"}
		}
		if spec.step == nil || spec.route == nil {
			return &domain.ErrWorkflow{Node: string(n), Reason: "node needs both a step and a route"}
		}
		if len(spec.next) == 0 {
			return &domain.ErrWorkflow{Node: string(n), Reason: "node declares no transitions"}
		}
		for _, t := range spec.next {
			if _, known := specs[t]; !known && t != NodeEnd {
				return &domain.ErrWorkflow{Node: string(n), Reason: fmt.Sprintf("transition to unknown node %q", t)}
			}
		}
	}

	const (
		unvisited = iota
		active
		done
	)
	state := make(map[Node]int)
	var visit func(n Node) error
	visit = func(n Node) error {
		if n == NodeEnd {
			return nil
		}
		switch state[n] {
		case active:
			return &domain.ErrWorkflow{Node: string(n), Reason: "cycle detected"}
		case done:
			return nil
		}
		state[n] = active
		for _, t := range specs[n].next {
			if err := visit(t); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}
	if err := visit(entry); err != nil {
		return err
	}
	for _, n := range Nodes {
		if state[n] != done {
			return &domain.ErrWorkflow{Node: string(n), Reason: "unreachable from " + string(entry)}
		}
	}
	return nil
}

// Workflow runs conversations through the graph. It holds no per-request
// state and is safe for concurrent use.
type Workflow struct {
	completer port.Completer
	retriever port.Retriever
	analyzer  *analysis.Analyzer
	queries   *analysis.QueryEngine
	rules     []intent.Rule
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// New creates a Workflow. retriever may be nil, in which case retrieval
// yields an empty context.
func New(
	completer port.Completer,
	retriever port.Retriever,
	analyzer *analysis.Analyzer,
	queries *analysis.QueryEngine,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		completer: completer,
		retriever: retriever,
		analyzer:  analyzer,
		queries:   queries,
		rules:     intent.DefaultRules,
		metrics:   metrics,
		logger:    logger,
	}
}

// Result is the outcome of one run.
type Result struct {
	State  domain.ConversationState
	Path   []Node
	Tokens domain.TokenUsage
}

// run carries the per-request bookkeeping of a single execution.
type run struct {
	w      *Workflow
	tokens domain.TokenUsage
}

// Run executes the graph from the router until a terminal node completes.
// Collaborator errors abort the run and are returned wrapped with the node name.
func (w *Workflow) Run(ctx context.Context, initial domain.ConversationState) (*Result, error) {
	return w.execute(ctx, graph, initial)
}

func (w *Workflow) execute(ctx context.Context, specs map[Node]nodeSpec, initial domain.ConversationState) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Run")
	defer span.End()

	r := &run{w: w}
	state := initial
	visited := make(map[Node]bool, len(specs))
	var path []Node

	for node := NodeRouter; node != NodeEnd; {
		if visited[node] {
			return nil, &domain.ErrWorkflow{Node: string(node), Reason: "node revisited"}
		}
		visited[node] = true
		path = append(path, node)

		spec, ok := specs[node]
		if !ok {
			return nil, &domain.ErrWorkflow{Node: string(node), Reason: "node has no definition"}
		}

		update, err := r.exec(ctx, node, spec.step, state)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("workflow %s: %w", node, err)
		}
		if state, err = state.Apply(update); err != nil {
			return nil, &domain.ErrWorkflow{Node: string(node), Reason: err.Error()}
		}

		next := spec.route(state)
		if !slices.Contains(spec.next, next) {
			return nil, &domain.ErrWorkflow{Node: string(node), Reason: fmt.Sprintf("undeclared transition to %q", next)}
		}
		node = next
	}

	span.SetAttributes(
		attribute.String("workflow.intent", string(state.Intent)),
		attribute.Int("workflow.steps", len(path)),
	)
	return &Result{State: state, Path: path, Tokens: r.tokens}, nil
}

func (r *run) exec(ctx context.Context, node Node, step stepFunc, s domain.ConversationState) (domain.StateUpdate, error) {
	ctx, span := tracer.Start(ctx, "workflow."+string(node))
	defer span.End()

	r.w.metrics.IncrNode(string(node))
	r.w.logger.Debug("workflow step", zap.String("node", string(node)), zap.String("intent", string(s.Intent)))

	update, err := step(r, ctx, s)
	if err != nil {
		span.RecordError(err)
	}
	return update, err
}
