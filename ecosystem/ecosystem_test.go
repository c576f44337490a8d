package ecosystem

import "testing"

func TestNewRegistersEveryParserOnce(t *testing.T) {
	r := New()
	all := All()
	got := r.All()
	if len(got) != len(all) {
		t.Fatalf("registry has %d parsers, want %d", len(got), len(all))
	}
	for _, p := range all {
		if _, ok := r.Lookup(p.Name()); !ok {
			t.Fatalf("parser %q not registered", p.Name())
		}
	}
}

func TestCandidatesForDispatchesOnSignature(t *testing.T) {
	r := New()
	pngMagic := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	cands := r.CandidatesFor(pngMagic)
	if len(cands) != 1 || cands[0].Name() != "png" {
		t.Fatalf("candidates for png magic = %v, want exactly [png]", cands)
	}
}
