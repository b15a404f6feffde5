// Package pattern parses the cycle mini-notation into immutable specs.
//
// One cycle is a whitespace-separated sequence of steps sharing the
// cycle equally. "~" is a rest, "[a b]" subdivides a step, "<a b>"
// alternates per cycle, "a*3" repeats a step inside its slot and
// "a:2" selects a sound parameter index. Note names like "c4" or
// "a#3" are resolved to MIDI numbers; anything else is a sample name.
package pattern

import (
	"fmt"
	"strconv"
)

// ParseError reports pattern text that fails to parse, with enough
// position context to reproduce the failure.
type ParseError struct {
	Offset int
	Token  string
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("pattern parse error at offset %d near %q: %s", e.Offset, e.Token, e.Msg)
	}
	return fmt.Sprintf("pattern parse error at offset %d: %s", e.Offset, e.Msg)
}

type Parser struct {
	cfg Config
}

func NewParser(cfg Config) *Parser {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.MaxRepeat <= 0 {
		cfg.MaxRepeat = DefaultConfig().MaxRepeat
	}
	return &Parser{cfg: cfg}
}

// Parse parses one cycle of mini-notation into a Spec with id.
func (p *Parser) Parse(id, source string) (*Spec, error) {
	sc := &scanner{src: source, cfg: p.cfg}
	steps, err := sc.parseSequence(0, 0)
	if err != nil {
		return nil, err
	}
	if !sc.eof() {
		return nil, &ParseError{Offset: sc.pos, Token: string(sc.src[sc.pos]), Msg: "unexpected closing bracket"}
	}
	if len(steps) == 0 {
		return nil, &ParseError{Offset: 0, Msg: "empty pattern"}
	}
	return &Spec{ID: id, Source: source, Steps: steps}, nil
}

type scanner struct {
	src string
	pos int
	cfg Config
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) skipSpace() {
	for !s.eof() {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

// parseSequence reads steps until EOF or the given closing bracket.
func (s *scanner) parseSequence(depth int, close byte) ([]Node, error) {
	var steps []Node
	for {
		s.skipSpace()
		if s.eof() {
			if close != 0 {
				return nil, &ParseError{Offset: s.pos, Msg: fmt.Sprintf("missing %q", string(close))}
			}
			return steps, nil
		}
		ch := s.src[s.pos]
		if ch == ']' || ch == '>' {
			if ch != close {
				return steps, nil
			}
			s.pos++
			return steps, nil
		}
		node, err := s.parseStep(depth)
		if err != nil {
			return nil, err
		}
		steps = append(steps, node)
	}
}

func (s *scanner) parseStep(depth int) (Node, error) {
	start := s.pos
	var node Node
	switch ch := s.src[s.pos]; ch {
	case '[', '<':
		if depth+1 > s.cfg.MaxDepth {
			return Node{}, &ParseError{Offset: start, Msg: "pattern nested too deeply"}
		}
		close := byte(']')
		kind := KindGroup
		if ch == '<' {
			close = '>'
			kind = KindAlt
		}
		s.pos++
		children, err := s.parseSequence(depth+1, close)
		if err != nil {
			return Node{}, err
		}
		if len(children) == 0 {
			return Node{}, &ParseError{Offset: start, Msg: "empty group"}
		}
		node = Node{Kind: kind, Note: -1, Steps: children}
	case '~':
		s.pos++
		node = Node{Kind: KindRest, Note: -1}
	default:
		name := s.scanName()
		if name == "" {
			return Node{}, &ParseError{Offset: start, Token: string(ch), Msg: "unexpected character"}
		}
		node = Node{Kind: KindSound, Sound: name, Note: noteNumber(name)}
	}
	node.Repeat = 1
	return s.parseSuffixes(node, start)
}

// parseSuffixes applies ":N" and "*N" in either order after a step.
func (s *scanner) parseSuffixes(node Node, start int) (Node, error) {
	for !s.eof() {
		opOff := s.pos
		switch s.src[s.pos] {
		case ':':
			if node.Kind != KindSound {
				return Node{}, &ParseError{Offset: opOff, Token: ":", Msg: "parameter index requires a sound"}
			}
			s.pos++
			n, ok := s.scanInt()
			if !ok {
				return Node{}, &ParseError{Offset: opOff, Token: ":", Msg: "expected parameter index"}
			}
			node.Param = n
		case '*':
			s.pos++
			n, ok := s.scanInt()
			if !ok || n < 1 {
				return Node{}, &ParseError{Offset: opOff, Token: "*", Msg: "expected repeat count"}
			}
			if n > s.cfg.MaxRepeat {
				return Node{}, &ParseError{Offset: start, Msg: fmt.Sprintf("repeat %d exceeds limit %d", n, s.cfg.MaxRepeat)}
			}
			node.Repeat = n
		case '?':
			// Reserved for randomized steps; rejected so translated
			// patterns cannot smuggle nondeterminism into scheduling.
			return Node{}, &ParseError{Offset: s.pos, Token: "?", Msg: "randomized steps are not supported"}
		default:
			return node, nil
		}
	}
	return node, nil
}

func (s *scanner) scanName() string {
	start := s.pos
	for !s.eof() {
		ch := s.src[s.pos]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '_' || ch == '#' || ch == '-' {
			s.pos++
			continue
		}
		break
	}
	return s.src[start:s.pos]
}

func (s *scanner) scanInt() (int, bool) {
	start := s.pos
	for !s.eof() && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
		s.pos++
	}
	if start == s.pos {
		return 0, false
	}
	v, err := strconv.Atoi(s.src[start:s.pos])
	if err != nil {
		return 0, false
	}
	return v, true
}

// noteNumber resolves names like "c4", "a#3" or "eb2" to a MIDI note
// number, or -1 when the name is not note-shaped (a sample name).
func noteNumber(name string) int {
	if len(name) < 2 {
		return -1
	}
	base, ok := pitchClass(name[0])
	if !ok {
		return -1
	}
	i := 1
	switch name[i] {
	case '#':
		base++
		i++
	case 'b':
		base--
		i++
	}
	if i >= len(name) {
		return -1
	}
	oct, err := strconv.Atoi(name[i:])
	if err != nil || oct < 0 || oct > 9 {
		return -1
	}
	n := 12*(oct+1) + base
	if n < 0 || n > 127 {
		return -1
	}
	return n
}

func pitchClass(ch byte) (int, bool) {
	switch ch | 0x20 {
	case 'c':
		return 0, true
	case 'd':
		return 2, true
	case 'e':
		return 4, true
	case 'f':
		return 5, true
	case 'g':
		return 7, true
	case 'a':
		return 9, true
	case 'b':
		return 11, true
	}
	return 0, false
}
