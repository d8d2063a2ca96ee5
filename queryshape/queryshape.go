// Package queryshape performs static shape checks on GraphQL documents before
// they are sent: selection depth, field-count complexity and alias count.
//
// The checks need only the query text. Variables and the server schema are
// never consulted.
package queryshape

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

// Limits bounds a document. A zero field means unbounded.
type Limits struct {
	MaxDepth      int
	MaxComplexity int
	MaxAliases    int
}

// Shape is the measured size of a document. When the document holds several
// operations each figure is the largest over all of them.
type Shape struct {
	// Operation is the kind of the first operation: query, mutation or
	// subscription.
	Operation  string
	Depth      int
	Complexity int
	Aliases    int
}

// Measure parses query and computes its shape. Parse failures and fragment
// cycles are reported as *resilientbridge.ValidationError.
func Measure(query string) (Shape, error) {
	doc, perr := parser.ParseQuery(&ast.Source{Input: query})
	if perr != nil {
		return Shape{}, &resilientbridge.ValidationError{Field: "query", Reason: "invalid graphql: " + perr.Error()}
	}
	if len(doc.Operations) == 0 {
		return Shape{}, &resilientbridge.ValidationError{Field: "query", Reason: "document has no operation"}
	}

	var shape Shape
	shape.Operation = string(doc.Operations[0].Operation)
	for _, op := range doc.Operations {
		w := walker{fragments: doc.Fragments, active: make(map[string]bool)}
		depth, err := w.selectionSet(op.SelectionSet, 0)
		if err != nil {
			return Shape{}, err
		}
		shape.Depth = max(shape.Depth, depth)
		shape.Complexity = max(shape.Complexity, w.fields)
		shape.Aliases = max(shape.Aliases, w.aliases)
	}
	return shape, nil
}

// Validate measures query and checks it against limits. The first bound
// exceeded is reported as a *resilientbridge.ValidationError.
func Validate(query string, limits Limits) (Shape, error) {
	shape, err := Measure(query)
	if err != nil {
		return shape, err
	}
	return shape, limits.Check(shape)
}

// Check reports the first bound that shape exceeds.
func (l Limits) Check(shape Shape) error {
	switch {
	case l.MaxDepth > 0 && shape.Depth > l.MaxDepth:
		return &resilientbridge.ValidationError{Field: "depth", Limit: l.MaxDepth, Actual: shape.Depth}
	case l.MaxComplexity > 0 && shape.Complexity > l.MaxComplexity:
		return &resilientbridge.ValidationError{Field: "complexity", Limit: l.MaxComplexity, Actual: shape.Complexity}
	case l.MaxAliases > 0 && shape.Aliases > l.MaxAliases:
		return &resilientbridge.ValidationError{Field: "aliases", Limit: l.MaxAliases, Actual: shape.Aliases}
	}
	return nil
}

// walker accumulates counts over one operation. Fragment spreads are expanded
// in place; active holds the fragments on the current expansion path.
type walker struct {
	fragments ast.FragmentDefinitionList
	active    map[string]bool

	fields  int
	aliases int
}

// selectionSet returns the deepest field nesting below a selection set whose
// parent sits at depth.
func (w *walker) selectionSet(set ast.SelectionSet, depth int) (int, error) {
	deepest := depth
	for _, sel := range set {
		var (
			d   int
			err error
		)
		switch s := sel.(type) {
		case *ast.Field:
			w.fields++
			if s.Alias != "" && s.Alias != s.Name {
				w.aliases++
			}
			d, err = w.selectionSet(s.SelectionSet, depth+1)

		case *ast.InlineFragment:
			d, err = w.selectionSet(s.SelectionSet, depth)

		case *ast.FragmentSpread:
			def := w.fragments.ForName(s.Name)
			if def == nil {
				return 0, &resilientbridge.ValidationError{Field: "query", Reason: fmt.Sprintf("unknown fragment %q", s.Name)}
			}
			if w.active[s.Name] {
				return 0, &resilientbridge.ValidationError{Field: "query", Reason: fmt.Sprintf("fragment %q spreads itself", s.Name)}
			}
			w.active[s.Name] = true
			d, err = w.selectionSet(def.SelectionSet, depth)
			delete(w.active, s.Name)
		}
		if err != nil {
			return 0, err
		}
		deepest = max(deepest, d)
	}
	return deepest, nil
}
