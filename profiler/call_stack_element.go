package profiler

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// CallStackElement is one node of a call tree: a timed operation and the
// operations it called, in call order.
type CallStackElement struct {
	Signature     string              `json:"signature"`
	Start         time.Time           `json:"-"`
	ExecutionTime time.Duration       `json:"executionTime"`
	Children      []*CallStackElement `json:"children,omitempty"`

	parent *CallStackElement
	// open until the node is stopped; scoped nodes are closed through their
	// handle by Exit, the others by Stop in stack order.
	open   bool
	scoped bool
}

// NewCallStackElement returns a node for signature started at start. When parent
// is not nil the node is appended to its children.
func NewCallStackElement(parent *CallStackElement, signature string, start time.Time) *CallStackElement {
	e := &CallStackElement{
		Signature: signature,
		Start:     start,
		parent:    parent,
	}
	if parent != nil {
		parent.Children = append(parent.Children, e)
	}
	return e
}

// Parent returns the calling node, nil for the root.
func (e *CallStackElement) Parent() *CallStackElement {
	return e.parent
}

// IsRoot reports whether e has no parent.
func (e *CallStackElement) IsRoot() bool {
	return e.parent == nil
}

// SetSignature replaces the recorded signature.
func (e *CallStackElement) SetSignature(signature string) {
	e.Signature = signature
}

// SelfTime is the execution time not spent in children.
func (e *CallStackElement) SelfTime() time.Duration {
	self := e.ExecutionTime
	for _, child := range e.Children {
		self -= child.ExecutionTime
	}
	return self
}

// RemoveCallsFasterThan drops every sub-tree whose execution time is below
// threshold. The removed time is not redistributed: ancestor totals stay as
// recorded, which makes the parent's self time grow by the pruned amount.
func (e *CallStackElement) RemoveCallsFasterThan(threshold time.Duration) {
	kept := e.Children[:0]
	for _, child := range e.Children {
		if child.ExecutionTime < threshold {
			child.parent = nil
			continue
		}
		child.RemoveCallsFasterThan(threshold)
		kept = append(kept, child)
	}
	for i := len(kept); i < len(e.Children); i++ {
		e.Children[i] = nil
	}
	e.Children = kept
}

// Walk calls fn for e and every descendant in depth first call order.
func (e *CallStackElement) Walk(fn func(depth int, element *CallStackElement)) {
	e.walk(0, fn)
}

func (e *CallStackElement) walk(depth int, fn func(int, *CallStackElement)) {
	fn(depth, e)
	for _, child := range e.Children {
		child.walk(depth+1, fn)
	}
}

// Count returns the number of nodes in the tree rooted at e.
func (e *CallStackElement) Count() int {
	n := 0
	e.Walk(func(int, *CallStackElement) { n++ })
	return n
}

// MarshalCallTree encodes the tree as JSON with execution times in nanoseconds.
func MarshalCallTree(e *CallStackElement) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalCallTree decodes a tree produced by MarshalCallTree and restores the
// parent links.
func UnmarshalCallTree(data []byte) (*CallStackElement, error) {
	root := &CallStackElement{}
	if err := json.Unmarshal(data, root); err != nil {
		return nil, err
	}
	root.relink()
	return root, nil
}

func (e *CallStackElement) relink() {
	for _, child := range e.Children {
		child.parent = e
		child.relink()
	}
}

// String renders the tree as a table of self time, total time and indented
// signature.
func (e *CallStackElement) String() string {
	var b strings.Builder
	b.WriteString("----------------------------------------------------------------------\n")
	b.WriteString("Selftime (ms)              Total (ms)                 Method signature\n")
	b.WriteString("----------------------------------------------------------------------\n")
	total := e.ExecutionTime
	e.Walk(func(depth int, node *CallStackElement) {
		b.WriteString(fmt.Sprintf("%-27s%-27s%s%s\n",
			formatTime(node.SelfTime(), total),
			formatTime(node.ExecutionTime, total),
			strings.Repeat("  ", depth),
			node.Signature))
	})
	return b.String()
}

func formatTime(d, total time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	pct := 0.0
	if total > 0 {
		pct = float64(d) / float64(total) * 100
	}
	return fmt.Sprintf("%9.2f %6.1f%%", ms, pct)
}
