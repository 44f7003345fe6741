package livequery

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// ExecuteFunc runs a request once.
type ExecuteFunc func(ctx context.Context, req Request) *graphql.Result

// SubscribeFunc starts a subscription. The returned channel is closed when
// the source ends or ctx is done.
type SubscribeFunc func(ctx context.Context, req Request) <-chan *graphql.Result

// LiveDirective must be part of any schema that accepts live queries, or
// validation rejects @live as an unknown directive.
var LiveDirective = graphql.NewDirective(graphql.DirectiveConfig{
	Name:        LiveDirectiveName,
	Description: "Re-deliver the query result whenever the data it read changes.",
	Locations:   []string{graphql.DirectiveLocationQuery},
})

// SchemaExecutor executes requests against a graphql-go schema.
func SchemaExecutor(schema graphql.Schema) ExecuteFunc {
	return func(ctx context.Context, req Request) *graphql.Result {
		return graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})
	}
}

// SchemaSubscriber runs subscription operations against a graphql-go schema.
func SchemaSubscriber(schema graphql.Schema) SubscribeFunc {
	return func(ctx context.Context, req Request) <-chan *graphql.Result {
		return graphql.Subscribe(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})
	}
}

// ErrorResult wraps err in an error-shaped result.
func ErrorResult(err error) *graphql.Result {
	return &graphql.Result{
		Errors: []gqlerrors.FormattedError{gqlerrors.FormatError(err)},
	}
}

func safeExecute(ctx context.Context, exec ExecuteFunc, req Request) (res *graphql.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = ErrorResult(fmt.Errorf("execution panicked: %v", p))
		}
	}()
	res = exec(ctx, req)
	if res == nil {
		res = ErrorResult(fmt.Errorf("execution returned no result"))
	}
	return res
}
