// Package profiler records nested operation timings as a call tree.
//
// The active call stack travels with a context.Context. A unit of work calls
// Activate once and the owner finishes with StopProfiling, which also clears
// the stack. Nested operations are recorded in one of two ways:
//
//   - Enter and Exit (or Trace) open a node under the node carried by ctx and
//     return a context for the work inside it. They are safe to use from
//     several goroutines sharing the activated context: concurrent calls
//     become siblings.
//   - Start and Stop push and pop on the stack top. They follow call order on
//     a single goroutine and must not be interleaved across goroutines.
//
// Work handed to another goroutine that should profile on its own calls
// Detach first and then Activate.
package profiler

import (
	"context"
	"sync"
	"time"
)

type stackKey struct{}

type nodeKey struct{}

// callStack is the state shared by every context derived from the one
// returned by Activate.
type callStack struct {
	mu   sync.Mutex
	root *CallStackElement
	// current is the innermost node opened by Start, the root otherwise.
	current *CallStackElement
}

// scope is the node a context derived from Enter records under.
type scope struct {
	stack *callStack
	node  *CallStackElement
}

func (s *callStack) clearLocked() {
	s.root = nil
	s.current = nil
}

// parentLocked returns the node a new node opened on ctx belongs under: the
// node carried by ctx, or a Start node still open beneath it.
func (s *callStack) parentLocked(ctx context.Context) *CallStackElement {
	base := s.root
	if sc, ok := ctx.Value(nodeKey{}).(scope); ok && sc.stack == s {
		base = sc.node
		for base != s.root && !base.open {
			base = base.parent
		}
	}
	if isWithin(s.current, base) {
		return s.current
	}
	return base
}

// stackAncestor is the closest node at or above n that Start/Stop may return to.
func (s *callStack) stackAncestor(n *CallStackElement) *CallStackElement {
	for n != nil && n != s.root && (!n.open || n.scoped) {
		n = n.parent
	}
	if n == nil {
		return s.root
	}
	return n
}

// isWithin reports whether n is ancestor or one of its descendants.
func isWithin(n, ancestor *CallStackElement) bool {
	for ; n != nil; n = n.parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

func closeOpen(e *CallStackElement, now time.Time) {
	e.Walk(func(_ int, node *CallStackElement) {
		if node.open {
			node.ExecutionTime = now.Sub(node.Start)
			node.open = false
		}
	})
}

func stackFromContext(ctx context.Context) *callStack {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(stackKey{}).(*callStack)
	return s
}

// Profiler creates and finishes call trees. It holds no per request state and
// is safe for concurrent use.
type Profiler struct {
	now func() time.Time
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithClock sets the time source used for node timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) {
		p.now = now
	}
}

// New returns a Profiler.
func New(opts ...Option) *Profiler {
	p := &Profiler{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsActive reports whether ctx carries a call stack that is still recording.
func IsActive(ctx context.Context) bool {
	s := stackFromContext(ctx)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root != nil
}

// Detach returns ctx without its call stack, for work that must not record
// into the caller's tree.
func Detach(ctx context.Context) context.Context {
	if stackFromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, stackKey{}, (*callStack)(nil))
}

// Activate starts a call tree rooted at signature. When ctx already carries an
// active stack the tree belongs to an outer unit of work: ctx is returned as is
// together with a nil root.
func (p *Profiler) Activate(ctx context.Context, signature string) (context.Context, *CallStackElement) {
	if IsActive(ctx) {
		return ctx, nil
	}
	root := NewCallStackElement(nil, signature, p.now())
	root.open = true
	s := &callStack{root: root, current: root}
	return context.WithValue(ctx, stackKey{}, s), root
}

// Enter opens a node for signature under the node ctx records under and
// returns a context carrying it, together with the handle to pass to Exit.
// It returns ctx and a nil node when no profiling is active on ctx.
func (p *Profiler) Enter(ctx context.Context, signature string) (context.Context, *CallStackElement) {
	s := stackFromContext(ctx)
	if s == nil {
		return ctx, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return ctx, nil
	}
	node := NewCallStackElement(s.parentLocked(ctx), signature, p.now())
	node.open = true
	node.scoped = true
	return context.WithValue(ctx, nodeKey{}, scope{stack: s, node: node}), node
}

// Exit closes node, replacing its signature when signature is not empty.
// Start nodes left open beneath it are closed at the same instant. Exit is a
// no-op once the tree was finished or cleared.
func (p *Profiler) Exit(ctx context.Context, node *CallStackElement, signature string) {
	s := stackFromContext(ctx)
	if s == nil || node == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil || !node.open {
		return
	}
	if s.current != node && isWithin(s.current, node) {
		s.current = s.stackAncestor(node.parent)
	}
	closeOpen(node, p.now())
	if signature != "" {
		node.Signature = signature
	}
}

// Start pushes a node for signature on top of the stack. It is a no-op when no
// profiling is active on ctx.
func (p *Profiler) Start(ctx context.Context, signature string) {
	s := stackFromContext(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return
	}
	node := NewCallStackElement(s.parentLocked(ctx), signature, p.now())
	node.open = true
	s.current = node
}

// Stop pops the top node and records its execution time.
func (p *Profiler) Stop(ctx context.Context) {
	p.stop(ctx, "")
}

// StopWithSignature pops the top node like Stop and replaces its signature.
func (p *Profiler) StopWithSignature(ctx context.Context, signature string) {
	p.stop(ctx, signature)
}

func (p *Profiler) stop(ctx context.Context, signature string) {
	s := stackFromContext(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return
	}
	if s.current == s.root {
		// Stop without a matching Start: the tree can no longer be trusted.
		s.clearLocked()
		return
	}
	top := s.current
	closeOpen(top, p.now())
	if signature != "" {
		top.Signature = signature
	}
	s.current = s.stackAncestor(top.parent)
}

// StopProfiling finishes the tree activated on ctx and clears the stack. Nodes
// still open are closed at the same instant as the root. It returns nil when
// nothing is active, or when the stack was cleared by an unbalanced Stop.
func (p *Profiler) StopProfiling(ctx context.Context) *CallStackElement {
	s := stackFromContext(ctx)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return nil
	}
	root := s.root
	closeOpen(root, p.now())
	s.clearLocked()
	return root
}

// Clear drops whatever stack ctx carries without finishing it.
func Clear(ctx context.Context) {
	if s := stackFromContext(ctx); s != nil {
		s.mu.Lock()
		s.clearLocked()
		s.mu.Unlock()
	}
}

// Trace runs fn as a node named signature. The node is closed even if fn panics.
func (p *Profiler) Trace(ctx context.Context, signature string, fn func(ctx context.Context)) {
	inner, node := p.Enter(ctx, signature)
	defer p.Exit(inner, node, "")
	fn(inner)
}
