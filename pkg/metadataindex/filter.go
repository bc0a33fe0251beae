package metadataindex

import (
	"errors"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/triadb/triadb/pkg/model"
)

var (
	errFieldRequired   = errors.New("predicate field must not be empty")
	errRangeBounds     = errors.New("range predicate requires both Low and High")
	errUnknownExprType = errors.New("unknown filter expression node type")
)

// Op names one leaf-predicate comparison.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpLt     Op = "lt"
	OpLe     Op = "le"
	OpGt     Op = "gt"
	OpGe     Op = "ge"
	OpIn     Op = "in"
	OpExists Op = "exists"
	OpPrefix Op = "prefix"
	OpRange  Op = "range"
)

// Predicate is one leaf of a filter expression tree: field OP value (or
// Low/High for OpRange).
type Predicate struct {
	Field string
	Op    Op
	Value any
	Low   any
	High  any
}

// Expr is a node in a filter expression tree: AND/OR/NOT over leaf
// predicates.
type Expr interface {
	eval(idx *Index) *roaring.Bitmap
	estimate(idx *Index) uint64
}

// Leaf wraps a single Predicate as an Expr.
type Leaf struct{ Predicate Predicate }

// And intersects every child's result, evaluating children in ascending
// estimated-cardinality order so the first intersection prunes the most.
type And struct{ Children []Expr }

// Or unions every child's result.
type Or struct{ Children []Expr }

// Not subtracts child's result from the full noun universe.
type Not struct{ Child Expr }

func (l Leaf) estimate(idx *Index) uint64 {
	switch l.Predicate.Op {
	case OpEq:
		return idx.Cardinality(l.Predicate.Field, l.Predicate.Value)
	case OpIn:
		values, _ := l.Predicate.Value.([]any)
		var total uint64
		for _, v := range values {
			total += idx.Cardinality(l.Predicate.Field, v)
		}
		return total
	case OpExists:
		f := idx.fieldFor(l.Predicate.Field)
		return f.presence.Load().GetCardinality()
	default:
		f := idx.fieldFor(l.Predicate.Field)
		return f.presence.Load().GetCardinality()
	}
}

func (a And) estimate(idx *Index) uint64 {
	if len(a.Children) == 0 {
		return 0
	}
	min := a.Children[0].estimate(idx)
	for _, c := range a.Children[1:] {
		if e := c.estimate(idx); e < min {
			min = e
		}
	}
	return min
}

func (o Or) estimate(idx *Index) uint64 {
	var total uint64
	for _, c := range o.Children {
		total += c.estimate(idx)
	}
	return total
}

func (n Not) estimate(idx *Index) uint64 {
	return idx.allIDs.GetCardinality()
}

func (l Leaf) eval(idx *Index) *roaring.Bitmap {
	f := idx.fieldFor(l.Predicate.Field)
	switch l.Predicate.Op {
	case OpEq:
		return bitmapOrEmpty((*f.hash.Load())[normalizeKey(l.Predicate.Value)])
	case OpNe:
		eq := bitmapOrEmpty((*f.hash.Load())[normalizeKey(l.Predicate.Value)])
		return roaring.AndNot(idx.allIDs, eq)
	case OpIn:
		values, _ := l.Predicate.Value.([]any)
		result := roaring.New()
		hash := *f.hash.Load()
		for _, v := range values {
			if bm, ok := hash[normalizeKey(v)]; ok {
				result = roaring.Or(result, bm)
			}
		}
		return result
	case OpExists:
		return f.presence.Load().Clone()
	case OpPrefix:
		return evalPrefix(f, l.Predicate.Value)
	case OpLt, OpLe, OpGt, OpGe:
		return evalComparison(f, l.Predicate.Op, l.Predicate.Value)
	case OpRange:
		return evalRange(f, l.Predicate.Low, l.Predicate.High)
	default:
		return roaring.New()
	}
}

func (a And) eval(idx *Index) *roaring.Bitmap {
	if len(a.Children) == 0 {
		return roaring.New()
	}
	ordered := make([]Expr, len(a.Children))
	copy(ordered, a.Children)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].estimate(idx) < ordered[j].estimate(idx) })

	result := ordered[0].eval(idx)
	for _, c := range ordered[1:] {
		if result.GetCardinality() == 0 {
			break // smallest-first order means an empty intersection can short-circuit
		}
		result = roaring.And(result, c.eval(idx))
	}
	return result
}

func (o Or) eval(idx *Index) *roaring.Bitmap {
	result := roaring.New()
	for _, c := range o.Children {
		result = roaring.Or(result, c.eval(idx))
	}
	return result
}

func (n Not) eval(idx *Index) *roaring.Bitmap {
	return roaring.AndNot(idx.allIDs, n.Child.eval(idx))
}

func bitmapOrEmpty(bm *roaring.Bitmap) *roaring.Bitmap {
	if bm == nil {
		return roaring.New()
	}
	return bm.Clone()
}

func evalPrefix(f *fieldIndex, value any) *roaring.Bitmap {
	prefix, ok := value.(string)
	if !ok {
		return roaring.New()
	}
	entries := *f.sorted.Load()
	result := roaring.New()
	for _, e := range entries {
		if s, ok := e.value.(string); ok && strings.HasPrefix(s, prefix) {
			result = roaring.Or(result, e.bitmap)
		}
	}
	return result
}

func evalComparison(f *fieldIndex, op Op, value any) *roaring.Bitmap {
	entries := *f.sorted.Load()
	key := normalizeKey(value)
	result := roaring.New()
	for _, e := range entries {
		c := compareValues(e.value, key)
		include := false
		switch op {
		case OpLt:
			include = c < 0
		case OpLe:
			include = c <= 0
		case OpGt:
			include = c > 0
		case OpGe:
			include = c >= 0
		}
		if include {
			result = roaring.Or(result, e.bitmap)
		}
	}
	return result
}

func evalRange(f *fieldIndex, low, high any) *roaring.Bitmap {
	entries := *f.sorted.Load()
	lowKey, highKey := normalizeKey(low), normalizeKey(high)
	result := roaring.New()
	for _, e := range entries {
		if compareValues(e.value, lowKey) >= 0 && compareValues(e.value, highKey) <= 0 {
			result = roaring.Or(result, e.bitmap)
		}
	}
	return result
}

// Compile validates expr against the closed op set and returns it
// unchanged (Expr trees are already typed Go values, not a parsed
// string); Compile exists as the single entry point callers use so a
// future textual filter-expression syntax can be added without changing
// the planner's call site. model.ErrInvalidArgument for a malformed leaf
// (e.g. OpRange missing Low/High).
func Compile(expr Expr) (Expr, error) {
	if err := validate(expr); err != nil {
		return nil, err
	}
	return expr, nil
}

func validate(expr Expr) error {
	switch e := expr.(type) {
	case Leaf:
		if e.Predicate.Field == "" {
			return model.NewError(model.KindInvalidArgument, "metadataindex.Compile", errFieldRequired)
		}
		if e.Predicate.Op == OpRange && (e.Predicate.Low == nil || e.Predicate.High == nil) {
			return model.NewError(model.KindInvalidArgument, "metadataindex.Compile", errRangeBounds)
		}
		return nil
	case And:
		for _, c := range e.Children {
			if err := validate(c); err != nil {
				return err
			}
		}
		return nil
	case Or:
		for _, c := range e.Children {
			if err := validate(c); err != nil {
				return err
			}
		}
		return nil
	case Not:
		return validate(e.Child)
	default:
		return model.NewError(model.KindInvalidArgument, "metadataindex.Compile", errUnknownExprType)
	}
}

// Eval runs expr against idx and returns the matching noun ids.
func (idx *Index) Eval(expr Expr) []model.NounID {
	bm := expr.eval(idx)
	return idx.ToNounIDs(bm)
}

// EvalBitmap runs expr against idx and returns the raw position bitmap,
// used by the planner when it wants cardinality before materializing ids.
func (idx *Index) EvalBitmap(expr Expr) *roaring.Bitmap {
	return expr.eval(idx)
}

// Estimate returns expr's estimated result-set cardinality without
// evaluating it, used by the planner's axis-ordering cost model.
func (idx *Index) Estimate(expr Expr) uint64 {
	return expr.estimate(idx)
}
