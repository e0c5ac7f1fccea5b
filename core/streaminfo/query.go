// File: core/streaminfo/query.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// evalQuery implements the restricted XPath 1.0 predicate grammar spec §4.4
// describes: boolean combinations of path/literal comparisons and
// count(path) terms, evaluated with the descriptor's <info> element as the
// context node. github.com/beevik/etree's Path selector only resolves
// element-selection paths (tag/attribute steps, position predicates), not
// standalone boolean expressions with count(), so this is hand-written
// rather than delegated — the one stdlib-only (well, etree-DOM-only) piece
// of the descriptor, justified in the grounding ledger.
package streaminfo

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

type queryParser struct {
	tokens []string
	pos    int
}

func tokenizeQuery(q string) []string {
	var toks []string
	i := 0
	for i < len(q) {
		c := q[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(q) && q[j] != quote {
				j++
			}
			toks = append(toks, q[i:j+1])
			i = j + 1
		case strings.ContainsRune("=!<>", rune(c)):
			j := i + 1
			if j < len(q) && q[j] == '=' {
				j++
			}
			toks = append(toks, q[i:j])
			i = j
		default:
			j := i
			for j < len(q) && !strings.ContainsRune(" \t\n()='\"!<>", rune(q[j])) {
				j++
			}
			if j == i {
				j++
			}
			toks = append(toks, q[i:j])
			i = j
		}
	}
	return toks
}

func (p *queryParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *queryParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *queryParser) parseOr(ctx *etree.Element) bool {
	v := p.parseAnd(ctx)
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		rhs := p.parseAnd(ctx)
		v = v || rhs
	}
	return v
}

func (p *queryParser) parseAnd(ctx *etree.Element) bool {
	v := p.parseNot(ctx)
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		rhs := p.parseNot(ctx)
		v = v && rhs
	}
	return v
}

func (p *queryParser) parseNot(ctx *etree.Element) bool {
	if strings.EqualFold(p.peek(), "not") {
		p.next()
		return !p.parseNot(ctx)
	}
	return p.parseComparison(ctx)
}

func (p *queryParser) parseComparison(ctx *etree.Element) bool {
	if p.peek() == "(" {
		p.next()
		v := p.parseOr(ctx)
		if p.peek() == ")" {
			p.next()
		}
		return v
	}

	lhs := p.parseOperand(ctx)
	op := p.peek()
	switch op {
	case "=", "!=", "<", ">", "<=", ">=":
		p.next()
		rhs := p.parseOperand(ctx)
		return compare(lhs, rhs, op)
	default:
		// Bare operand used as a boolean: true iff non-empty / non-zero.
		return lhs != "" && lhs != "0"
	}
}

// operandValue is either a raw string or a count() result, both rendered to
// string so compare() can decide numeric vs lexical comparison.
func (p *queryParser) parseOperand(ctx *etree.Element) string {
	tok := p.next()
	switch {
	case tok == "":
		return ""
	case tok[0] == '\'' || tok[0] == '"':
		return tok[1 : len(tok)-1]
	case strings.EqualFold(tok, "count") && p.peek() == "(":
		p.next()
		path := p.collectPathUntilParen()
		if p.peek() == ")" {
			p.next()
		}
		return strconv.Itoa(len(resolvePath(ctx, path)))
	default:
		return resolveScalarPath(ctx, tok)
	}
}

// collectPathUntilParen reassembles a bare path token sequence up to the
// matching ')', since the tokenizer splits on '(' / ')' but paths like
// info/desc/channel are otherwise a single identifier.
func (p *queryParser) collectPathUntilParen() string {
	var b strings.Builder
	for p.peek() != ")" && p.peek() != "" {
		b.WriteString(p.next())
	}
	return b.String()
}

func resolveScalarPath(ctx *etree.Element, path string) string {
	els := resolvePath(ctx, path)
	if len(els) == 0 {
		return ""
	}
	return els[0].Text()
}

// resolvePath resolves a slash-separated child path relative to ctx. A
// leading "info" segment is treated as a redundant reference to ctx itself
// (predicates are conventionally written as if rooted one level above the
// <info> element being tested) and stripped.
func resolvePath(ctx *etree.Element, path string) []*etree.Element {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) > 0 && strings.EqualFold(segs[0], "info") {
		segs = segs[1:]
	}
	cur := []*etree.Element{ctx}
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		var next []*etree.Element
		for _, e := range cur {
			next = append(next, e.SelectElements(seg)...)
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	return cur
}

func compare(lhs, rhs, op string) bool {
	lf, lerr := strconv.ParseFloat(lhs, 64)
	rf, rerr := strconv.ParseFloat(rhs, 64)
	if lerr == nil && rerr == nil {
		switch op {
		case "=":
			return lf == rf
		case "!=":
			return lf != rf
		case "<":
			return lf < rf
		case ">":
			return lf > rf
		case "<=":
			return lf <= rf
		case ">=":
			return lf >= rf
		}
	}
	switch op {
	case "=":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case ">":
		return lhs > rhs
	case "<=":
		return lhs <= rhs
	case ">=":
		return lhs >= rhs
	}
	return false
}

func evaluatePredicate(ctx *etree.Element, predicate string) bool {
	if strings.TrimSpace(predicate) == "" {
		return true
	}
	p := &queryParser{tokens: tokenizeQuery(predicate)}
	return p.parseOr(ctx)
}
