package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"loom-backend/internal/store"
)

var tracer = otel.Tracer("loom-backend/internal/engine")

// executor runs one query: a single store query fetches every selected
// schema field, then the remaining resolvers run in priority order, batch
// strategies first.
type executor struct {
	query *Query
}

func newExecutor(q *Query) *executor {
	return &executor{query: q}
}

func (e *executor) Execute(ctx context.Context) (*Batch, error) {
	q := e.query
	ctx, span := tracer.Start(ctx, "query.execute")
	span.SetAttributes(
		attribute.String("resource.type", q.target.Name()),
		attribute.Int("query.limit", q.limit),
		attribute.Int("query.offset", q.offset),
	)
	defer span.End()

	fields, remaining := e.analyze()

	batch, err := e.fetch(ctx, fields)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("result.count", batch.Len()))

	if err := e.resolveRemaining(ctx, batch, remaining); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return batch, nil
}

// analyze splits the selected requests into schema fields, satisfiable by the
// store query itself, and everything else, ordered by resolver priority.
func (e *executor) analyze() ([]string, []*Request) {
	q := e.query
	fields := make([]string, 0, len(q.requests))
	remaining := make([]*Request, 0)
	for _, req := range q.Requests() {
		if q.target.schema.Has(req.Resolver.Name()) {
			fields = append(fields, req.Resolver.Name())
		} else {
			remaining = append(remaining, req)
		}
	}
	resolvers := make([]Resolver, len(remaining))
	byName := make(map[string]*Request, len(remaining))
	for i, req := range remaining {
		resolvers[i] = req.Resolver
		byName[req.Resolver.Name()] = req
	}
	SortResolvers(resolvers)
	for i, rv := range resolvers {
		remaining[i] = byName[rv.Name()]
	}
	return fields, remaining
}

func (e *executor) fetch(ctx context.Context, fields []string) (*Batch, error) {
	q := e.query
	mode := q.mode
	if mode == ModeDefault {
		mode = q.target.registry.Mode()
	}
	if mode == ModeSimulation {
		count := q.limit
		if count == 0 {
			count = 3
		}
		return q.target.Generate(count), nil
	}

	records, err := q.target.store.Query(ctx, q.where, store.QueryOptions{
		Fields:  fields,
		OrderBy: q.orderBy,
		Limit:   q.limit,
		Offset:  q.offset,
	})
	if err != nil {
		return nil, err
	}
	items := make([]*Resource, len(records))
	for i, record := range records {
		items[i] = q.target.New(record)
		items[i].Clean()
	}
	return NewBatch(q.target, items...), nil
}

func (e *executor) resolveRemaining(ctx context.Context, batch *Batch, remaining []*Request) error {
	for _, req := range remaining {
		rv := req.Resolver
		// requests can be shared across queries, so the effective mode is
		// carried on a copy rather than written back
		mode := req.Mode
		if mode == ModeDefault {
			mode = e.query.mode
		}
		if mode == ModeDefault {
			mode = e.query.target.registry.Mode()
		}
		effective := *req
		effective.Mode = mode
		var (
			values map[string]any
			ok     bool
			err    error
		)
		if mode != ModeSimulation {
			values, ok, err = rv.ResolveBatch(ctx, batch, &effective)
			if err != nil {
				return err
			}
		}
		if ok {
			for _, r := range batch.Items() {
				r.setResolved(rv, values[r.ID()])
			}
			continue
		}
		for _, r := range batch.Items() {
			v, err := Dispatch(ctx, rv, r, &effective)
			if err != nil {
				return err
			}
			r.setResolved(rv, v)
		}
	}
	return nil
}
