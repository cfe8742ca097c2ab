package tracer

import (
	"sync"
	"sync/atomic"
)

// PreInterceptor runs when a span starts and may veto or force reporting and
// call tree collection.
type PreInterceptor interface {
	Name() string
	InterceptPre(ctx *PreExecutionContext)
}

// PostInterceptor runs when a span finishes and may veto or force reporting
// and drop the call tree.
type PostInterceptor interface {
	Name() string
	InterceptPost(ctx *PostExecutionContext)
}

// PreInterceptorFunc adapts a function to a PreInterceptor.
type PreInterceptorFunc struct {
	ID string
	Fn func(ctx *PreExecutionContext)
}

func (f PreInterceptorFunc) Name() string                          { return f.ID }
func (f PreInterceptorFunc) InterceptPre(ctx *PreExecutionContext) { f.Fn(ctx) }

// PostInterceptorFunc adapts a function to a PostInterceptor.
type PostInterceptorFunc struct {
	ID string
	Fn func(ctx *PostExecutionContext)
}

func (f PostInterceptorFunc) Name() string                            { return f.ID }
func (f PostInterceptorFunc) InterceptPost(ctx *PostExecutionContext) { f.Fn(ctx) }

type interceptors struct {
	pre  []PreInterceptor
	post []PostInterceptor
}

// Registry holds the ordered interceptor lists. Readers get an immutable
// snapshot; every registration publishes a new copy.
type Registry struct {
	mu      sync.Mutex
	current atomic.Value // *interceptors
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&interceptors{})
	return r
}

func (r *Registry) load() *interceptors {
	return r.current.Load().(*interceptors)
}

// AddPre appends pre interceptors, they run after those already registered.
func (r *Registry) AddPre(in ...PreInterceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	next := &interceptors{
		pre:  append(append(make([]PreInterceptor, 0, len(cur.pre)+len(in)), cur.pre...), in...),
		post: cur.post,
	}
	r.current.Store(next)
}

// AddPost appends post interceptors, they run after those already registered.
func (r *Registry) AddPost(in ...PostInterceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	next := &interceptors{
		pre:  cur.pre,
		post: append(append(make([]PostInterceptor, 0, len(cur.post)+len(in)), cur.post...), in...),
	}
	r.current.Store(next)
}

// Remove unregisters every interceptor called name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	next := &interceptors{}
	for _, in := range cur.pre {
		if in.Name() != name {
			next.pre = append(next.pre, in)
		}
	}
	for _, in := range cur.post {
		if in.Name() != name {
			next.post = append(next.post, in)
		}
	}
	r.current.Store(next)
}

// PreInterceptors returns the current pre interceptors in execution order.
func (r *Registry) PreInterceptors() []PreInterceptor {
	return r.load().pre
}

// PostInterceptors returns the current post interceptors in execution order.
func (r *Registry) PostInterceptors() []PostInterceptor {
	return r.load().post
}
