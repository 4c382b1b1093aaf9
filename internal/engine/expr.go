package engine

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprResolver computes a derived attribute from an expression over the
// resource's loaded state, e.g. "this.first_name + \" \" + this.last_name".
// Expressions are compiled once at bind time and evaluated per resource.
type ExprResolver struct {
	resolverBase
	source  string
	program *vm.Program
}

func NewExprResolver(owner *Type, name, source string) *ExprResolver {
	return &ExprResolver{
		resolverBase: resolverBase{
			name:     name,
			owner:    owner,
			nullable: true,
			priority: PriorityComputed,
			tags:     []string{"computed"},
		},
		source: source,
	}
}

func (e *ExprResolver) Bind(reg *Registry) error {
	program, err := expr.Compile(e.source, expr.AllowUndefinedVariables())
	if err != nil {
		return &AppError{
			Code:    "VALIDATION_FAILED",
			Status:  500,
			Message: fmt.Sprintf("%s.%s: cannot compile expression: %v", e.owner.Name(), e.name, err),
		}
	}
	e.program = program
	return nil
}

func (e *ExprResolver) Resolve(ctx context.Context, r *Resource, req *Request) (any, error) {
	env := map[string]any{"this": r.State()}
	out, err := vm.Run(e.program, env)
	if err != nil {
		return nil, fmt.Errorf("resolver %s.%s: %w", e.owner.Name(), e.name, err)
	}
	return out, nil
}

func (e *ExprResolver) Simulate(r *Resource, req *Request) (any, error) {
	return e.Resolve(context.Background(), r, req)
}
