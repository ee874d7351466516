// Package graph holds the problem DAG and derives the order in which fixes
// are attempted.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/helmcode/fixos/pkg/model"
)

// ErrDuplicateProblem is returned by Add when the id is already present.
var ErrDuplicateProblem = errors.New("duplicate problem id")

// Priority orders two problems after the topological pass. It must be a
// strict weak ordering; ties keep topological order.
type Priority func(a, b *model.Problem) int

// SeverityPriority puts roots first, then critical < warning < info.
func SeverityPriority(a, b *model.Problem) int {
	if a.IsRoot() != b.IsRoot() {
		if a.IsRoot() {
			return -1
		}
		return 1
	}
	return a.Severity.Rank() - b.Severity.Rank()
}

// Option configures a Graph.
type Option func(*Graph)

// WithPriority replaces the default scheduling comparator.
func WithPriority(p Priority) Option {
	return func(g *Graph) {
		g.priority = p
	}
}

// Graph is the problem DAG. It is not safe for concurrent use.
type Graph struct {
	nodes     map[string]*model.Problem
	inserted  []string
	order     []string
	unordered int
	priority  Priority
}

// New creates an empty graph ordered by SeverityPriority unless an option
// replaces it.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:    make(map[string]*model.Problem),
		priority: SeverityPriority,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add inserts a new node. Edges are kept symmetric in both directions:
// parents named in CausedBy learn p in MayCause, children named in MayCause
// learn p in CausedBy, and existing children naming p are added to its
// MayCause. Re-adding an id is a conflict.
func (g *Graph) Add(p *model.Problem) error {
	if p.ID == "" {
		return fmt.Errorf("problem has empty id")
	}
	if _, ok := g.nodes[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProblem, p.ID)
	}
	if p.Status == "" {
		p.Status = model.StatusPending
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = model.DefaultMaxAttempts
	}
	p.CausedBy = dedupe(p.CausedBy)
	p.MayCause = dedupe(p.MayCause)
	g.nodes[p.ID] = p
	g.inserted = append(g.inserted, p.ID)

	for _, parent := range slices.Clone(p.CausedBy) {
		g.link(parent, p.ID)
	}
	for _, child := range slices.Clone(p.MayCause) {
		g.link(p.ID, child)
	}
	for _, id := range g.inserted {
		if slices.Contains(g.nodes[id].CausedBy, p.ID) {
			p.MayCause = appendUnique(p.MayCause, id)
		}
	}
	g.recalculate()
	return nil
}

// Merge folds a re-reported problem into the existing node: edges and new
// fix commands are unioned, status and attempts are kept. It reports
// whether the id was already present; unknown ids are added.
func (g *Graph) Merge(p *model.Problem) (bool, error) {
	existing, ok := g.nodes[p.ID]
	if !ok {
		return false, g.Add(p)
	}
	for _, c := range p.FixCommands {
		existing.FixCommands = appendUnique(existing.FixCommands, c)
	}
	for _, parent := range p.CausedBy {
		g.link(parent, existing.ID)
	}
	for _, child := range p.MayCause {
		g.link(existing.ID, child)
	}
	g.recalculate()
	return true, nil
}

// Link records that parent may cause child.
func (g *Graph) Link(parent, child string) {
	g.link(parent, child)
	g.recalculate()
}

func (g *Graph) link(parent, child string) {
	if parent == child {
		return
	}
	if p, ok := g.nodes[parent]; ok {
		p.MayCause = appendUnique(p.MayCause, child)
	}
	if c, ok := g.nodes[child]; ok {
		c.CausedBy = appendUnique(c.CausedBy, parent)
	}
}

// Get returns the node with the given id.
func (g *Graph) Get(id string) (*model.Problem, bool) {
	p, ok := g.nodes[id]
	return p, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Problems returns nodes in execution order.
func (g *Graph) Problems() []*model.Problem {
	out := make([]*model.Problem, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// ExecutionOrder returns a copy of the derived order.
func (g *Graph) ExecutionOrder() []string {
	return slices.Clone(g.order)
}

// Unordered is the number of nodes the topological pass could not place,
// i.e. nodes on or behind a cycle.
func (g *Graph) Unordered() int {
	return g.unordered
}

// NextActionable returns the first pending node in execution order whose
// present dependencies are all resolved.
func (g *Graph) NextActionable() *model.Problem {
	for _, id := range g.order {
		p := g.nodes[id]
		if !p.IsActionable() {
			continue
		}
		if g.depsResolved(p) {
			return p
		}
	}
	return nil
}

func (g *Graph) depsResolved(p *model.Problem) bool {
	for _, dep := range p.CausedBy {
		if d, ok := g.nodes[dep]; ok && d.Status != model.StatusResolved {
			return false
		}
	}
	return true
}

// AllDone reports whether every node is in a terminal status.
func (g *Graph) AllDone() bool {
	for _, p := range g.nodes {
		switch p.Status {
		case model.StatusResolved, model.StatusFailed, model.StatusBlocked:
		default:
			return false
		}
	}
	return true
}

// PendingCount returns the number of nodes still pending.
func (g *Graph) PendingCount() int {
	n := 0
	for _, p := range g.nodes {
		if p.Status == model.StatusPending {
			n++
		}
	}
	return n
}

// BlockUnreachable marks pending nodes that can never become actionable as
// blocked and returns their ids. A node is unreachable when a dependency is
// failed, skipped or blocked, or when it is pending but no longer eligible.
// Nodes stuck only on each other (a cycle) are blocked last.
func (g *Graph) BlockUnreachable() []string {
	var blocked []string
	for changed := true; changed; {
		changed = false
		for _, id := range g.order {
			p := g.nodes[id]
			if p.Status != model.StatusPending {
				continue
			}
			if p.Attempts >= p.MaxAttempts || g.hasDeadDependency(p) {
				p.Status = model.StatusBlocked
				blocked = append(blocked, id)
				changed = true
			}
		}
	}
	if g.NextActionable() != nil {
		return blocked
	}
	for _, id := range g.order {
		p := g.nodes[id]
		if p.Status == model.StatusPending {
			p.Status = model.StatusBlocked
			blocked = append(blocked, id)
		}
	}
	return blocked
}

func (g *Graph) hasDeadDependency(p *model.Problem) bool {
	for _, dep := range p.CausedBy {
		d, ok := g.nodes[dep]
		if !ok {
			continue
		}
		switch d.Status {
		case model.StatusFailed, model.StatusSkipped, model.StatusBlocked:
			return true
		}
	}
	return false
}

// Summary counts nodes per status.
type Summary struct {
	Total          int                       `json:"total" yaml:"total"`
	ByStatus       map[model.Status][]string `json:"by_status" yaml:"by_status"`
	ExecutionOrder []string                  `json:"execution_order" yaml:"execution_order"`
	Unordered      int                       `json:"unordered,omitempty" yaml:"unordered,omitempty"`
}

// Summary returns the status counts of all nodes.
func (g *Graph) Summary() Summary {
	byStatus := make(map[model.Status][]string)
	for _, id := range g.order {
		p := g.nodes[id]
		byStatus[p.Status] = append(byStatus[p.Status], id)
	}
	return Summary{
		Total:          len(g.nodes),
		ByStatus:       byStatus,
		ExecutionOrder: g.ExecutionOrder(),
		Unordered:      g.unordered,
	}
}

// Node is one line of a rendered tree.
type Node struct {
	Problem  *model.Problem
	Depth    int
	Orphaned bool
}

// Walk visits roots depth-first through MayCause, each node at most once.
// Nodes never reached are emitted afterwards as orphaned.
func (g *Graph) Walk() []Node {
	var out []Node
	visited := make(map[string]bool, len(g.nodes))

	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		p, ok := g.nodes[id]
		if !ok || visited[id] {
			return
		}
		visited[id] = true
		out = append(out, Node{Problem: p, Depth: depth})
		for _, child := range p.MayCause {
			visit(child, depth+1)
		}
	}

	for _, id := range g.inserted {
		if g.nodes[id].IsRoot() {
			visit(id, 0)
		}
	}
	for _, id := range g.inserted {
		if !visited[id] {
			out = append(out, Node{Problem: g.nodes[id], Orphaned: true})
		}
	}
	return out
}

var severityIcons = map[model.Severity]string{
	model.SeverityCritical: "🔴",
	model.SeverityWarning:  "🟡",
	model.SeverityInfo:     "🟢",
}

var statusIcons = map[model.Status]string{
	model.StatusPending:    "⏳",
	model.StatusInProgress: "🔄",
	model.StatusResolved:   "✅",
	model.StatusFailed:     "❌",
	model.StatusBlocked:    "🚫",
	model.StatusSkipped:    "⏭️",
}

// SeverityIcon returns the emoji shown for a severity.
func SeverityIcon(s model.Severity) string {
	if icon, ok := severityIcons[s]; ok {
		return icon
	}
	return "⚪"
}

// StatusIcon returns the emoji shown for a status.
func StatusIcon(s model.Status) string {
	if icon, ok := statusIcons[s]; ok {
		return icon
	}
	return "?"
}

// RenderTree draws the graph as an indented tree from its roots. Nodes
// reachable only through a cycle are listed at the end.
func (g *Graph) RenderTree() string {
	nodes := g.Walk()
	if len(nodes) == 0 {
		return "(no problems)"
	}
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte('\n')
		}
		p := n.Problem
		if n.Orphaned {
			fmt.Fprintf(&b, "  ◦ [%s] %s (orphaned)", p.ID, p.Description)
			continue
		}
		prefix := strings.Repeat("  ", n.Depth)
		if n.Depth > 0 {
			prefix += "└─ "
		}
		fmt.Fprintf(&b, "%s%s [%s] %s %s", prefix, SeverityIcon(p.Severity), p.ID, p.Description, StatusIcon(p.Status))
	}
	return b.String()
}

// recalculate runs Kahn's algorithm over CausedBy/MayCause, appends any
// nodes left behind by cycles in insertion order, then applies the
// priority comparator as a stable sort.
func (g *Graph) recalculate() {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.inserted {
		inDegree[id] = 0
	}
	for _, id := range g.inserted {
		for _, dep := range g.nodes[id].CausedBy {
			if _, ok := g.nodes[dep]; ok {
				inDegree[id]++
			}
		}
	}

	queue := make([]string, 0, len(g.inserted))
	for _, id := range g.inserted {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.inserted))
	placed := make(map[string]bool, len(g.inserted))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		placed[id] = true
		for _, child := range g.nodes[id].MayCause {
			if _, ok := inDegree[child]; !ok {
				continue
			}
			inDegree[child]--
			if inDegree[child] == 0 && !placed[child] {
				queue = append(queue, child)
			}
		}
	}

	g.unordered = 0
	for _, id := range g.inserted {
		if !placed[id] {
			order = append(order, id)
			g.unordered++
		}
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return g.priority(g.nodes[a], g.nodes[b])
	})
	g.order = order
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func dedupe(list []string) []string {
	var out []string
	for _, v := range list {
		out = appendUnique(out, v)
	}
	return out
}
