package pattern

// Kind identifies a parsed pattern node.
type Kind int

const (
	KindSound Kind = iota + 1
	KindRest
	KindGroup
	KindAlt
)

// Node is one step of a cycle pattern. A node occupies an equal share
// of its parent's time slot; Repeat subdivides that share further.
type Node struct {
	Kind   Kind
	Sound  string // sample or note name as written
	Note   int    // MIDI note number, -1 when Sound is not a note name
	Param  int    // ":N" parameter index, 0 when absent
	Repeat int    // "*N" repetition inside the slot, >= 1
	Steps  []Node // children for KindGroup / KindAlt
}

// Spec is an immutable parsed pattern. Specs are replaced wholesale,
// never mutated, so readers holding an old version are unaffected by
// later edits. Version is stamped by the store on install; a zero
// version marks an uninstalled draft.
type Spec struct {
	ID      string
	Source  string
	Steps   []Node
	Version uint64
}

// WithVersion returns a copy of the spec stamped with a store version.
func (s *Spec) WithVersion(v uint64) *Spec {
	out := *s
	out.Version = v
	return &out
}

// Config bounds parsing.
type Config struct {
	MaxDepth  int // nesting depth of [] / <>
	MaxRepeat int // largest accepted *N
}

func DefaultConfig() Config {
	return Config{MaxDepth: 8, MaxRepeat: 64}
}
