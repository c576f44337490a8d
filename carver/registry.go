package carver

import "sort"

// Registry indexes Parsers by their magic signatures, the flat-match
// dispatch design note §9 asks for in place of an inheritance hierarchy.
// Grounded on quay-claircore/indexer/ecosystem.go's aggregation of
// scanners into one Ecosystem value with no class hierarchy involved.
type Registry struct {
	byName  map[string]Parser
	all     []Parser
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Parser)}
}

// Register adds a Parser. It panics on a duplicate name, since two
// parsers claiming the same format name is a wiring bug caught at
// init-time, not a runtime condition.
func (r *Registry) Register(p Parser) {
	if _, dup := r.byName[p.Name()]; dup {
		panic("carver: duplicate parser name " + p.Name())
	}
	r.byName[p.Name()] = p
	r.all = append(r.all, p)
}

// Lookup returns the parser registered under name, if any.
func (r *Registry) Lookup(name string) (Parser, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered parser, sorted by name for deterministic
// iteration order.
func (r *Registry) All() []Parser {
	out := append([]Parser(nil), r.all...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// CandidatesFor returns every parser whose Signatures() list contains a
// sequence matching the bytes at the front of peek (the small lookahead
// window an orchestrator would have read at a candidate offset, spec.md
// §5 "Memory discipline"). This is the signature-index half of the
// registry; the orchestrator itself (signature-based candidate discovery)
// is out of scope, but building the index from registered parsers is the
// core's responsibility so collaborators don't hand-maintain a parallel
// magic-number table.
func (r *Registry) CandidatesFor(peek []byte) []Parser {
	var out []Parser
	for _, p := range r.all {
		for _, sig := range p.Signatures() {
			if len(sig) <= len(peek) && bytesEqual(peek[:len(sig)], sig) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
