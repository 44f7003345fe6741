package livequery

import (
	"errors"
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// LiveDirectiveName marks a query operation as live.
const LiveDirectiveName = "live"

// ErrInvalidDocument wraps every Classify failure.
var ErrInvalidDocument = errors.New("invalid document")

// Request is one GraphQL operation as sent by a client.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Mode is how an operation is run. It is fixed when the document is
// classified.
type Mode int

const (
	ModeOneShot Mode = iota
	ModeLive
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeStream:
		return "stream"
	default:
		return "one-shot"
	}
}

// Document is a classified request.
type Document struct {
	Request
	Mode          Mode
	OperationType string
	// RootFields lists the field names (not aliases) selected at the root of
	// the operation, fragments included.
	RootFields []string
}

// RootIdentifiers returns the identifiers every execution of d touches.
func (d *Document) RootIdentifiers() []string {
	ids := make([]string, 0, len(d.RootFields))
	for _, f := range d.RootFields {
		ids = append(ids, RootIdentifier(d.OperationType, f))
	}
	return ids
}

// RootIdentifier names a root field, e.g. "Query.noteCount".
func RootIdentifier(operationType, field string) string {
	switch operationType {
	case ast.OperationTypeMutation:
		return "Mutation." + field
	case ast.OperationTypeSubscription:
		return "Subscription." + field
	default:
		return "Query." + field
	}
}

// Classify parses req and selects the operation to run.
func Classify(req Request) (*Document, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidDocument)
	}
	doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var op *ast.OperationDefinition
	fragments := map[string]*ast.FragmentDefinition{}
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			if d.Name != nil {
				fragments[d.Name.Value] = d
			}
		case *ast.OperationDefinition:
			if req.OperationName == "" {
				if op != nil {
					return nil, fmt.Errorf("%w: must provide operation name if query contains multiple operations", ErrInvalidDocument)
				}
				op = d
			} else if d.Name != nil && d.Name.Value == req.OperationName {
				op = d
			}
		}
	}
	if op == nil {
		if req.OperationName != "" {
			return nil, fmt.Errorf("%w: unknown operation named %q", ErrInvalidDocument, req.OperationName)
		}
		return nil, fmt.Errorf("%w: no operation found", ErrInvalidDocument)
	}

	out := &Document{
		Request:       req,
		OperationType: op.Operation,
		Mode:          ModeOneShot,
	}
	if out.OperationType == "" {
		out.OperationType = ast.OperationTypeQuery
	}
	switch out.OperationType {
	case ast.OperationTypeSubscription:
		out.Mode = ModeStream
	case ast.OperationTypeQuery:
		if hasDirective(op.Directives, LiveDirectiveName) {
			out.Mode = ModeLive
		}
	}
	out.RootFields = rootFields(op.SelectionSet, fragments, map[string]bool{}, nil)
	return out, nil
}

func hasDirective(directives []*ast.Directive, name string) bool {
	for _, d := range directives {
		if d.Name != nil && d.Name.Value == name {
			return true
		}
	}
	return false
}

func rootFields(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, visited map[string]bool, out []string) []string {
	if set == nil {
		return out
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == nil || s.Name.Value == "__typename" {
				continue
			}
			if !contains(out, s.Name.Value) {
				out = append(out, s.Name.Value)
			}
		case *ast.InlineFragment:
			out = rootFields(s.SelectionSet, fragments, visited, out)
		case *ast.FragmentSpread:
			if s.Name == nil || visited[s.Name.Value] {
				continue
			}
			visited[s.Name.Value] = true
			if frag, ok := fragments[s.Name.Value]; ok {
				out = rootFields(frag.SelectionSet, fragments, visited, out)
			}
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
