package program

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/term"
)

// ParseResult holds the rules and ground facts recovered from a program
// source file. Facts parsed this way are handed to the EDB layer; rules
// are handed to New.
type ParseResult struct {
	Rules         []ast.Rule
	Facts         []Fact
	EDBPredicates map[string]int
}

// Fact is a ground atom read directly from program text, e.g. `edge(a, b).`
// with no body.
type Fact struct {
	Predicate string
	Args      []string
}

// Parse reads a small Prolog-like Datalog syntax:
//
//	edge(a, b).
//	edge(b, c).
//	tc(X, Y) :- edge(X, Y).
//	tc(X, Z) :- tc(X, Y), edge(Y, Z).
//
// Identifiers starting with an uppercase letter or underscore are
// variables; everything else (including quoted strings and numbers) is a
// constant, interned through dict. Lines starting with "%" or "//" are
// comments. This mirrors the grammar google/mangle/parse implements for
// the same surface syntax, simplified to the positive-literal-only
// fragment this engine evaluates (spec.md §1 non-goals exclude negation
// and aggregates).
func Parse(src string, dict *term.Dictionary) (*ParseResult, error) {
	p := &parser{lex: newLexer(src), dict: dict}
	res := &ParseResult{EDBPredicates: make(map[string]int)}

	for {
		p.skipClauseSeparators()
		if p.lex.peekKind() == tokEOF {
			break
		}
		head, err := p.parseLiteralText()
		if err != nil {
			return nil, err
		}
		if p.lex.peekKind() == tokImplies {
			p.lex.next()
			var body []literalText
			for {
				lit, err := p.parseLiteralText()
				if err != nil {
					return nil, err
				}
				body = append(body, lit)
				if p.lex.peekKind() == tokComma {
					p.lex.next()
					continue
				}
				break
			}
			if err := p.expect(tokDot); err != nil {
				return nil, err
			}
			rule, err := toRule(head, body)
			if err != nil {
				return nil, err
			}
			res.Rules = append(res.Rules, rule)
			continue
		}

		if err := p.expect(tokDot); err != nil {
			return nil, err
		}
		if head.hasVar {
			return nil, fmt.Errorf("program: fact %s(...) may not contain variables", head.pred)
		}
		res.Facts = append(res.Facts, Fact{Predicate: head.pred, Args: head.args})
		if n, ok := res.EDBPredicates[head.pred]; ok && n != len(head.args) {
			return nil, fmt.Errorf("program: predicate %s used with arity %d and %d", head.pred, n, len(head.args))
		}
		res.EDBPredicates[head.pred] = len(head.args)
	}
	return res, nil
}

// ParseQuery parses a single literal, such as a CLI query argument
// ("tc(a, X)"), resolving its variables to a fresh, query-local numbering
// independent of any program's rule variable ids. Unlike Parse it expects
// no trailing dot.
func ParseQuery(src string, dict *term.Dictionary) (ast.Literal, error) {
	p := &parser{lex: newLexer(src), dict: dict}
	lt, err := p.parseLiteralText()
	if err != nil {
		return ast.Literal{}, err
	}
	if p.lex.peekKind() != tokEOF {
		return ast.Literal{}, fmt.Errorf("program: unexpected trailing input after query literal")
	}
	varIDs := make(map[string]int32)
	nextVar := int32(0)
	slots := make([]ast.Slot, len(lt.args))
	for i, a := range lt.args {
		if lt.isVar[i] {
			id, ok := varIDs[a]
			if !ok {
				id = nextVar
				nextVar++
				varIDs[a] = id
			}
			slots[i] = ast.VarSlot(id)
		} else {
			n, _ := strconv.ParseInt(a, 10, 64)
			slots[i] = ast.ConstSlot(term.Term(n))
		}
	}
	return ast.Literal{Pred: ast.Predicate{Name: lt.pred, Arity: len(lt.args)}, Args: slots}, nil
}

// literalText is a literal with unresolved string arguments — variable
// names kept as text until the whole rule is seen, so that repeated
// variables across head and body resolve to the same small integer.
type literalText struct {
	pred   string
	args   []string
	isVar  []bool
	hasVar bool
}

func toRule(head literalText, body []literalText) (ast.Rule, error) {
	varIDs := make(map[string]int32)
	nextVar := int32(0)
	resolve := func(lt literalText) ast.Literal {
		slots := make([]ast.Slot, len(lt.args))
		for i, a := range lt.args {
			if lt.isVar[i] {
				id, ok := varIDs[a]
				if !ok {
					id = nextVar
					nextVar++
					varIDs[a] = id
				}
				slots[i] = ast.VarSlot(id)
			} else {
				// Constants are resolved to Terms by the caller once
				// the dictionary is known; parseLiteralText already
				// interned them, so a is the decimal Term id.
				n, _ := strconv.ParseInt(a, 10, 64)
				slots[i] = ast.ConstSlot(term.Term(n))
			}
		}
		return ast.Literal{Pred: ast.Predicate{Name: lt.pred, Arity: len(lt.args)}, Args: slots}
	}

	r := ast.Rule{Head: resolve(head)}
	for _, b := range body {
		r.Body = append(r.Body, resolve(b))
	}
	if len(r.Body) == 0 {
		return ast.Rule{}, fmt.Errorf("program: rule for %s has empty body", head.pred)
	}
	return r, nil
}

type parser struct {
	lex  *lexer
	dict *term.Dictionary
}

func (p *parser) skipClauseSeparators() {
	for p.lex.peekKind() == tokDot {
		p.lex.next()
	}
}

func (p *parser) expect(k tokKind) error {
	t := p.lex.next()
	if t.kind != k {
		return fmt.Errorf("program: expected %v, got %q at offset %d", k, t.text, t.pos)
	}
	return nil
}

func (p *parser) parseLiteralText() (literalText, error) {
	name := p.lex.next()
	if name.kind != tokIdent {
		return literalText{}, fmt.Errorf("program: expected predicate name, got %q at offset %d", name.text, name.pos)
	}
	if err := p.expect(tokLParen); err != nil {
		return literalText{}, err
	}
	lt := literalText{pred: name.text}
	for {
		tok := p.lex.next()
		switch tok.kind {
		case tokIdent:
			isVar := isVariableName(tok.text)
			lt.args = append(lt.args, p.textForArg(tok.text, isVar))
			lt.isVar = append(lt.isVar, isVar)
			lt.hasVar = lt.hasVar || isVar
		case tokString:
			lt.args = append(lt.args, p.textForArg(tok.text, false))
			lt.isVar = append(lt.isVar, false)
		case tokNumber:
			lt.args = append(lt.args, p.textForArg(tok.text, false))
			lt.isVar = append(lt.isVar, false)
		default:
			return literalText{}, fmt.Errorf("program: unexpected token %q at offset %d in argument list", tok.text, tok.pos)
		}

		next := p.lex.next()
		if next.kind == tokComma {
			continue
		}
		if next.kind == tokRParen {
			break
		}
		return literalText{}, fmt.Errorf("program: expected ',' or ')' at offset %d, got %q", next.pos, next.text)
	}
	return lt, nil
}

// textForArg returns the argument text to store on literalText: for
// variables, the bare name (resolved later per-rule); for constants, the
// decimal Term id after interning through the dictionary.
func (p *parser) textForArg(s string, isVar bool) string {
	if isVar {
		return s
	}
	t := p.dict.Intern(s)
	return strconv.FormatInt(int64(t), 10)
}

func isVariableName(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return r == '_' || unicode.IsUpper(r)
}

// --- lexer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokImplies
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "EOF"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	case tokComma:
		return ","
	case tokDot:
		return "."
	case tokImplies:
		return ":-"
	}
	return "?"
}

type token struct {
	kind tokKind
	text string
	pos  int
}

type lexer struct {
	src     string
	pos     int
	peeked  *token
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) peekKind() tokKind {
	if l.peeked == nil {
		t := l.scan()
		l.peeked = &t
	}
	return l.peeked.kind
}

func (l *lexer) next() token {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t
	}
	return l.scan()
}

func (l *lexer) scan() token {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}
	case c == '.':
		l.pos++
		return token{kind: tokDot, text: ".", pos: start}
	case c == ':' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-':
		l.pos += 2
		return token{kind: tokImplies, text: ":-", pos: start}
	case c == '"':
		return l.scanString(start)
	case unicode.IsDigit(rune(c)) || (c == '-' && l.pos+1 < len(l.src) && unicode.IsDigit(rune(l.src[l.pos+1]))):
		return l.scanNumber(start)
	case unicode.IsLetter(rune(c)) || c == '_' || c == '/':
		return l.scanIdent(start)
	default:
		l.pos++
		return token{kind: tokIdent, text: string(c), pos: start}
	}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		if c == '%' || (c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/') {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func (l *lexer) scanString(start int) token {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) && l.src[l.pos] != '"' {
		if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
			l.pos++
		}
		sb.WriteByte(l.src[l.pos])
		l.pos++
	}
	if l.pos < len(l.src) {
		l.pos++ // closing quote
	}
	return token{kind: tokString, text: sb.String(), pos: start}
}

func (l *lexer) scanNumber(start int) token {
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && unicode.IsDigit(rune(l.src[l.pos])) {
		l.pos++
	}
	return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}
}

func (l *lexer) scanIdent(start int) token {
	for l.pos < len(l.src) {
		c := rune(l.src[l.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			l.pos++
			continue
		}
		break
	}
	return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}
}
