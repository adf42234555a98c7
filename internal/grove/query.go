package grove

import (
	"fmt"

	"github.com/roach88/docgrove/internal/pathquery"
)

// maxReferenceHops bounds reference chains.
const maxReferenceHops = 8

// ResultItem is one item produced by a path query. References are resolved:
// Value is the target item's payload while Path and Key locate the matched
// element.
type ResultItem struct {
	Path  [][]byte
	Key   []byte
	Value []byte
}

// QueryResult is the outcome of executing a path query.
type QueryResult struct {
	Items   []ResultItem
	Skipped uint16
}

// Values returns the item payloads in result order.
func (r *QueryResult) Values() [][]byte {
	out := make([][]byte, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Value
	}
	return out
}

// source is what a traversal reads from: the live store or a decoded proof.
type source interface {
	// layer lists a layer's entries. Entries may carry only their kind;
	// element must be called for the full element.
	layer(path [][]byte, reverse bool) ([]layerEntry, error)
	element(path [][]byte, key []byte) (Element, bool, error)
}

type liveSource struct{ t *Tx }

func (s liveSource) layer(path [][]byte, reverse bool) ([]layerEntry, error) {
	return s.t.rawLayer(path, reverse)
}

func (s liveSource) element(path [][]byte, key []byte) (Element, bool, error) {
	return s.t.rawGet(path, key)
}

// Query executes a path query. A missing path yields a PathError; callers
// that treat absence as empty should check IsAbsence.
func (t *Tx) Query(pq pathquery.PathQuery) (*QueryResult, error) {
	return execute(liveSource{t}, pq)
}

func resolveLayer(src source, path [][]byte) error {
	for i := range path {
		el, ok, err := src.element(path[:i], path[i])
		if err != nil {
			return err
		}
		if !ok || !el.IsTree() {
			kind := PathParentLayerNotFound
			if i == len(path)-1 {
				kind = PathNotFound
			}
			return &PathError{Kind: kind, Path: clonePath(path[:i+1])}
		}
	}
	return nil
}

func resolveReference(src source, el Element) (Element, error) {
	for hops := 0; el.Kind == KindReference; hops++ {
		if hops >= maxReferenceHops {
			return Element{}, &CorruptedError{Message: "reference chain too long"}
		}
		if err := resolveLayer(src, el.RefPath); err != nil {
			if IsAbsence(err) {
				return Element{}, &CorruptedError{Message: "dangling reference: " + err.Error()}
			}
			return Element{}, err
		}
		target, ok, err := src.element(el.RefPath, el.RefKey)
		if err != nil {
			return Element{}, err
		}
		if !ok {
			return Element{}, &CorruptedError{Message: fmt.Sprintf("dangling reference to key %x", el.RefKey)}
		}
		el = target
	}
	return el, nil
}

type executor struct {
	src     source
	limit   int
	bounded bool
	offset  int
	result  QueryResult
	done    bool
}

func execute(src source, pq pathquery.PathQuery) (*QueryResult, error) {
	e := &executor{src: src}
	if pq.Query.Limit != nil {
		e.bounded = true
		e.limit = int(*pq.Query.Limit)
		e.done = e.limit == 0
	}
	if pq.Query.Offset != nil {
		e.offset = int(*pq.Query.Offset)
	}
	if err := resolveLayer(src, pq.Path); err != nil {
		return nil, err
	}
	if pq.Query.Query == nil {
		return &e.result, nil
	}
	if err := e.walk(pq.Path, pq.Query.Query); err != nil {
		return nil, err
	}
	return &e.result, nil
}

func (e *executor) walk(path [][]byte, q *pathquery.Query) error {
	if e.done {
		return nil
	}
	entries, err := e.src.layer(path, !q.LeftToRight)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if e.done {
			return nil
		}
		if !q.Matches(entry.key) {
			continue
		}
		el, ok, err := e.src.element(path, entry.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		br := q.BranchFor(entry.key)
		if br.IsEmpty() || !el.IsTree() {
			if err := e.emit(path, entry.key, el); err != nil {
				return err
			}
			continue
		}
		if err := e.descend(joinPath(path, entry.key), br); err != nil {
			return err
		}
	}
	return nil
}

// descend applies a subquery branch beneath a matched tree.
func (e *executor) descend(path [][]byte, br pathquery.SubqueryBranch) error {
	segs := br.Path
	var last []byte
	if br.Subquery == nil {
		segs, last = br.Path[:len(br.Path)-1], br.Path[len(br.Path)-1]
	}
	for _, seg := range segs {
		el, ok, err := e.src.element(path, seg)
		if err != nil {
			return err
		}
		if !ok || !el.IsTree() {
			return nil
		}
		path = joinPath(path, seg)
	}
	if br.Subquery != nil {
		return e.walk(path, br.Subquery)
	}
	el, ok, err := e.src.element(path, last)
	if err != nil || !ok {
		return err
	}
	return e.emit(path, last, el)
}

func (e *executor) emit(path [][]byte, key []byte, el Element) error {
	if el.IsTree() {
		return nil
	}
	el, err := resolveReference(e.src, el)
	if err != nil {
		return err
	}
	if el.IsTree() {
		return nil
	}
	if e.offset > 0 {
		e.offset--
		e.result.Skipped++
		return nil
	}
	e.result.Items = append(e.result.Items, ResultItem{Path: clonePath(path), Key: clone(key), Value: clone(el.Value)})
	if e.bounded && len(e.result.Items) >= e.limit {
		e.done = true
	}
	return nil
}
