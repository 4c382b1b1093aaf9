package engine

import "context"

// ResolveFunc is the signature for custom resolver callbacks registered
// through FuncSpec.
type ResolveFunc func(ctx context.Context, r *Resource, req *Request) (any, error)

// FuncResolver adapts a plain function into a resolver, for derived
// attributes that need Go logic rather than an expression.
type FuncResolver struct {
	resolverBase
	fn       ResolveFunc
	simulate ResolveFunc
}

func NewFuncResolver(owner *Type, name string, fn ResolveFunc) *FuncResolver {
	return &FuncResolver{
		resolverBase: resolverBase{
			name:     name,
			owner:    owner,
			nullable: true,
			priority: PriorityComputed,
			tags:     []string{"computed"},
		},
		fn: fn,
	}
}

// WithSimulate sets the callback used in simulation mode. Without one,
// simulation yields nil.
func (f *FuncResolver) WithSimulate(fn ResolveFunc) *FuncResolver {
	f.simulate = fn
	return f
}

func (f *FuncResolver) Resolve(ctx context.Context, r *Resource, req *Request) (any, error) {
	return f.fn(ctx, r, req)
}

func (f *FuncResolver) Simulate(r *Resource, req *Request) (any, error) {
	if f.simulate == nil {
		return nil, nil
	}
	return f.simulate(context.Background(), r, req)
}
