package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"tradesim/internal/indicator"
)

// ErrDivisionByZero is returned when a condition divides by zero at
// evaluation time.
var ErrDivisionByZero = errors.New("division by zero")

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && src[j] >= '0' && src[j] <= '9' {
					i = j
					for i < len(src) && src[i] >= '0' && src[i] <= '9' {
						i++
					}
				}
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", src[start:i], start)
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], num: n, pos: start})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) && (src[i] == '_' || src[i] == '.' || unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i]))) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '[':
			toks = append(toks, token{kind: tokLBrack, text: "[", pos: i})
			i++
		case c == ']':
			toks = append(toks, token{kind: tokRBrack, text: "]", pos: i})
			i++
		default:
			op := ""
			if i+1 < len(src) {
				switch two := src[i : i+2]; two {
				case ">=", "<=", "==", "!=", "&&", "||":
					op = two
				}
			}
			if op == "" {
				switch c {
				case '>', '<', '!', '+', '-', '*', '/':
					op = string(c)
				default:
					return nil, fmt.Errorf("unexpected character %q at %d", c, i)
				}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type valueKind int

const (
	kindNumber valueKind = iota
	kindBool
)

func (k valueKind) String() string {
	if k == kindBool {
		return "boolean"
	}
	return "number"
}

// value is the result of evaluating a node. defined is false when any
// referenced indicator or bar field is not yet available.
type value struct {
	num     float64
	truth   bool
	defined bool
}

var undefined = value{}

// env supplies reference values during evaluation.
type env interface {
	indicatorValue(name string, lag int) (float64, bool)
	barValue(field indicator.Source, lag int) (float64, bool)
}

// node is a type-checked expression. shift is added to every reference lag,
// which is how the cross operators look one bar back.
type node interface {
	kind() valueKind
	eval(e env, shift int) (value, error)
	String() string
}

type numberLit float64

func (n numberLit) kind() valueKind { return kindNumber }
func (n numberLit) eval(env, int) (value, error) {
	return value{num: float64(n), defined: true}, nil
}
func (n numberLit) String() string { return strconv.FormatFloat(float64(n), 'g', -1, 64) }

type boolLit bool

func (b boolLit) kind() valueKind { return kindBool }
func (b boolLit) eval(env, int) (value, error) {
	return value{truth: bool(b), defined: true}, nil
}
func (b boolLit) String() string { return strconv.FormatBool(bool(b)) }

// ref reads an indicator or a bar field at a lag.
type ref struct {
	name  string
	field indicator.Source // set for bar fields
	lag   int
}

func (r ref) kind() valueKind { return kindNumber }

func (r ref) eval(e env, shift int) (value, error) {
	var (
		v  float64
		ok bool
	)
	if r.field != "" {
		v, ok = e.barValue(r.field, r.lag+shift)
	} else {
		v, ok = e.indicatorValue(r.name, r.lag+shift)
	}
	if !ok {
		return undefined, nil
	}
	return value{num: v, defined: true}, nil
}

func (r ref) String() string {
	if r.lag == 0 {
		return r.name
	}
	return fmt.Sprintf("%s[%d]", r.name, r.lag)
}

type unary struct {
	op string // "-" or "not"
	x  node
}

func (u unary) kind() valueKind { return u.x.kind() }

func (u unary) eval(e env, shift int) (value, error) {
	v, err := u.x.eval(e, shift)
	if err != nil || !v.defined {
		return undefined, err
	}
	if u.op == "-" {
		return value{num: -v.num, defined: true}, nil
	}
	return value{truth: !v.truth, defined: true}, nil
}

func (u unary) String() string {
	if u.op == "-" {
		return "-" + u.x.String()
	}
	return "not " + u.x.String()
}

type binary struct {
	op   string
	l, r node
}

func (b binary) kind() valueKind {
	switch b.op {
	case "+", "-", "*", "/":
		return kindNumber
	default:
		return kindBool
	}
}

func (b binary) eval(e env, shift int) (value, error) {
	l, err := b.l.eval(e, shift)
	if err != nil {
		return undefined, err
	}
	r, err := b.r.eval(e, shift)
	if err != nil {
		return undefined, err
	}
	if !l.defined || !r.defined {
		return undefined, nil
	}

	switch b.op {
	case "+":
		return value{num: l.num + r.num, defined: true}, nil
	case "-":
		return value{num: l.num - r.num, defined: true}, nil
	case "*":
		return value{num: l.num * r.num, defined: true}, nil
	case "/":
		if r.num == 0 {
			return undefined, fmt.Errorf("%s: %w", b.String(), ErrDivisionByZero)
		}
		return value{num: l.num / r.num, defined: true}, nil
	case ">":
		return value{truth: l.num > r.num, defined: true}, nil
	case ">=":
		return value{truth: l.num >= r.num, defined: true}, nil
	case "<":
		return value{truth: l.num < r.num, defined: true}, nil
	case "<=":
		return value{truth: l.num <= r.num, defined: true}, nil
	case "==":
		return value{truth: l.num == r.num, defined: true}, nil
	case "!=":
		return value{truth: l.num != r.num, defined: true}, nil
	case "and":
		return value{truth: l.truth && r.truth, defined: true}, nil
	case "or":
		return value{truth: l.truth || r.truth, defined: true}, nil
	}
	return undefined, fmt.Errorf("unknown operator %q", b.op)
}

func (b binary) String() string {
	return "(" + b.l.String() + " " + b.op + " " + b.r.String() + ")"
}

// cross is true when l moved from at-or-below r on the previous bar to above
// it on the current bar (or the mirror image for crosses_below).
type cross struct {
	above bool
	l, r  node
}

func (c cross) kind() valueKind { return kindBool }

func (c cross) eval(e env, shift int) (value, error) {
	var cur, prev [2]value
	for i, n := range []node{c.l, c.r} {
		v, err := n.eval(e, shift)
		if err != nil {
			return undefined, err
		}
		p, err := n.eval(e, shift+1)
		if err != nil {
			return undefined, err
		}
		if !v.defined || !p.defined {
			return undefined, nil
		}
		cur[i], prev[i] = v, p
	}
	if c.above {
		return value{truth: cur[0].num > cur[1].num && prev[0].num <= prev[1].num, defined: true}, nil
	}
	return value{truth: cur[0].num < cur[1].num && prev[0].num >= prev[1].num, defined: true}, nil
}

func (c cross) String() string {
	op := "crosses_below"
	if c.above {
		op = "crosses_above"
	}
	return "(" + c.l.String() + " " + op + " " + c.r.String() + ")"
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Grammar, lowest precedence first:
//
//	or      = and { ("or" | "||") and }
//	and     = not { ("and" | "&&") not }
//	not     = ("not" | "!") not | compare
//	compare = sum [ cmpop sum ]
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/") unary }
//	unary   = "-" unary | primary
//	primary = number | "true" | "false" | ident [ "[" int "]" ] | "(" or ")"
//
// cmpop is one of > >= < <= == != crosses_above crosses_below.

type resolver func(name string) (ref, bool)

type parser struct {
	src     string
	toks    []token
	pos     int
	resolve resolver
	deps    map[string]struct{}
}

// parseExpression parses and type-checks src as a boolean condition. It
// returns the root node and the referenced indicator names.
func parseExpression(src string, resolve resolver) (node, []string, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{src: src, toks: toks, resolve: resolve, deps: map[string]struct{}{}}
	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	if root.kind() != kindBool {
		return nil, nil, fmt.Errorf("condition must be boolean, got %s expression %s", root.kind(), root)
	}

	deps := make([]string, 0, len(p.deps))
	for name := range p.deps {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return root, deps, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(words ...string) (string, bool) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		w := strings.ToLower(t.text)
		for _, k := range words {
			if w == k {
				return k, true
			}
		}
	case tokOp:
		for _, k := range words {
			if t.text == k {
				return k, true
			}
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isKeyword("or", "||"); !ok {
			return l, nil
		}
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if l, err = logical("or", l, r); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isKeyword("and", "&&"); !ok {
			return l, nil
		}
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if l, err = logical("and", l, r); err != nil {
			return nil, err
		}
	}
}

func logical(op string, l, r node) (node, error) {
	if l.kind() != kindBool || r.kind() != kindBool {
		return nil, fmt.Errorf("operator %s needs boolean operands, got %s and %s", op, l.kind(), r.kind())
	}
	return binary{op: op, l: l, r: r}, nil
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.isKeyword("not", "!"); ok {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if x.kind() != kindBool {
			return nil, fmt.Errorf("operator not needs a boolean operand, got %s", x.kind())
		}
		return unary{op: "not", x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.isKeyword(">", ">=", "<", "<=", "==", "!=", "crosses_above", "crosses_below")
	if !ok {
		return l, nil
	}
	p.next()
	r, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if l.kind() != kindNumber || r.kind() != kindNumber {
		return nil, fmt.Errorf("operator %s needs numeric operands, got %s and %s", op, l.kind(), r.kind())
	}
	switch op {
	case "crosses_above":
		return cross{above: true, l: l, r: r}, nil
	case "crosses_below":
		return cross{above: false, l: l, r: r}, nil
	}
	return binary{op: op, l: l, r: r}, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isKeyword("+", "-")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		if l, err = arithmetic(op, l, r); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseProduct() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isKeyword("*", "/")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if l, err = arithmetic(op, l, r); err != nil {
			return nil, err
		}
	}
}

func arithmetic(op string, l, r node) (node, error) {
	if l.kind() != kindNumber || r.kind() != kindNumber {
		return nil, fmt.Errorf("operator %s needs numeric operands, got %s and %s", op, l.kind(), r.kind())
	}
	return binary{op: op, l: l, r: r}, nil
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.isKeyword("-"); ok {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if x.kind() != kindNumber {
			return nil, fmt.Errorf("unary minus needs a numeric operand, got %s", x.kind())
		}
		return unary{op: "-", x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberLit(t.num), nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at %d, got %q", c.pos, c.text)
		}
		return x, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return boolLit(true), nil
		case "false":
			return boolLit(false), nil
		case "and", "or", "not", "crosses_above", "crosses_below":
			return nil, fmt.Errorf("unexpected keyword %q at %d", t.text, t.pos)
		}
		r, ok := p.resolve(t.text)
		if !ok {
			return nil, fmt.Errorf("unknown reference %q at %d", t.text, t.pos)
		}
		if p.peek().kind == tokLBrack {
			p.next()
			n := p.next()
			if n.kind != tokNumber || n.num != float64(int(n.num)) || n.num < 0 {
				return nil, fmt.Errorf("lag for %s must be a non-negative integer at %d", t.text, n.pos)
			}
			if c := p.next(); c.kind != tokRBrack {
				return nil, fmt.Errorf("expected ] at %d, got %q", c.pos, c.text)
			}
			r.lag = int(n.num)
		}
		if r.field == "" {
			p.deps[r.name] = struct{}{}
		}
		return r, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

// barField maps the reserved bar-field identifiers to sources.
func barField(name string) (indicator.Source, bool) {
	switch strings.ToLower(name) {
	case "open":
		return indicator.SourceOpen, true
	case "high":
		return indicator.SourceHigh, true
	case "low":
		return indicator.SourceLow, true
	case "close", "price":
		return indicator.SourceClose, true
	case "volume":
		return indicator.SourceVolume, true
	}
	return "", false
}

// reservedWord reports whether name cannot be used as an indicator name.
func reservedWord(name string) bool {
	if _, ok := barField(name); ok {
		return true
	}
	switch strings.ToLower(name) {
	case "and", "or", "not", "true", "false", "crosses_above", "crosses_below":
		return true
	}
	return false
}
