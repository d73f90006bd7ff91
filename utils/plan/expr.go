package plan

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kris-hansen/sheetsmith/utils/sheet"
)

// Formula grammar, lowest precedence first:
//
//	or      := and { ("or" | "||") and }
//	and     := not { ("and" | "&&") not }
//	not     := ("not" | "!") not | compare
//	compare := concat [ ("=" | "==" | "!=" | "<>" | "<" | "<=" | ">" | ">=") concat ]
//	concat  := sum { "&" sum }
//	sum     := term { ("+" | "-") term }
//	term    := unary { ("*" | "/") unary }
//	unary   := "-" unary | primary
//	primary := number | string | column | func "(" args ")" | "(" or ")"
//
// Columns are bare identifiers, [Bracketed Names] or `backquoted names`.

var (
	// ErrEvaluation marks a formula that could not be computed for a row.
	ErrEvaluation = errors.New("evaluation failed")
	// ErrEmptyOperand marks arithmetic on an empty cell. The result is an
	// empty cell, which is not worth a warning.
	ErrEmptyOperand = errors.New("empty operand")
)

// Row resolves a column name to the cell value of the current row
type Row func(column string) string

// Expr is a compiled formula. It is safe for concurrent use.
type Expr struct {
	src     string
	root    node
	columns []string
}

// Compile parses src into an Expr
func Compile(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	return &Expr{src: src, root: root, columns: p.columns}, nil
}

func (e *Expr) String() string { return e.src }

// Columns lists the referenced columns in order of first use
func (e *Expr) Columns() []string { return e.columns }

// Eval computes the formula against one row and renders the result as cell
// text.
func (e *Expr) Eval(row Row) (string, error) {
	v, err := e.root.eval(row)
	if err != nil {
		return "", err
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return "", fmt.Errorf("%w: result is not a finite number", ErrEvaluation)
	}
	return text(v), nil
}

// Numeric reports whether every evaluation yields a number: arithmetic,
// numeric literals and functions, and if() with numeric branches.
func (e *Expr) Numeric() bool { return numeric(e.root) }

func numeric(n node) bool {
	switch x := n.(type) {
	case number, arithmetic:
		return true
	case call:
		switch x.fn {
		case "round", "abs", "year":
			return true
		case "if":
			return numeric(x.args[1]) && numeric(x.args[2])
		}
	}
	return false
}

// Test evaluates the formula as a condition
func (e *Expr) Test(row Row) (bool, error) {
	v, err := e.root.eval(row)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// lexer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokColumn
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var twoCharOps = []string{"<=", ">=", "<>", "!=", "==", "&&", "||"}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i
			dot := false
			for j < len(rs) && (unicode.IsDigit(rs[j]) || (rs[j] == '.' && !dot)) {
				if rs[j] == '.' {
					dot = true
				}
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j]), i})
			i = j
		case r == '"' || r == '\'':
			var sb strings.Builder
			j := i + 1
			for ; j < len(rs) && rs[j] != r; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, sb.String(), i})
			i = j + 1
		case r == '[' || r == '`':
			closer := ']'
			if r == '`' {
				closer = '`'
			}
			j := i + 1
			for j < len(rs) && rs[j] != closer {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated column reference at offset %d", i)
			}
			name := strings.TrimSpace(string(rs[i+1 : j]))
			if name == "" {
				return nil, fmt.Errorf("empty column reference at offset %d", i)
			}
			toks = append(toks, token{tokColumn, name, i})
			i = j + 1
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j]), i})
			i = j
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		default:
			op := ""
			if i+1 < len(rs) {
				for _, two := range twoCharOps {
					if string(rs[i:i+2]) == two {
						op = two
						break
					}
				}
			}
			if op == "" && strings.ContainsRune("=<>+-*/&!", r) {
				op = string(r)
			}
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
			}
			toks = append(toks, token{tokOp, op, i})
			i += len([]rune(op))
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

// parser

type parser struct {
	toks    []token
	pos     int
	columns []string
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// accept consumes the next token if it is one of the given operators or
// keywords.
func (p *parser) accept(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if (t.kind == tokOp && t.text == w) || (t.kind == tokIdent && strings.EqualFold(t.text, w)) {
			p.pos++
			return w, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("or", "||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logical{or: true, l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("and", "&&"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = logical{l: left, r: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.accept("not", "!"); ok {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return negation{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	op, ok := p.accept("<=", ">=", "<>", "!=", "==", "=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	return comparison{op: op, l: left, r: right}, nil
}

func (p *parser) parseConcat() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("&"); !ok {
			return left, nil
		}
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		left = concatenation{l: left, r: right}
	}
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = arithmetic{op: op, l: left, r: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = arithmetic{op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.accept("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return arithmetic{op: "-", l: number(0), r: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return number(f), nil
	case tokString:
		return literal(t.text), nil
	case tokColumn:
		return p.column(t.text), nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return boolean(true), nil
		case "false":
			return boolean(false), nil
		case "and", "or", "not":
			return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return p.column(t.text), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing ')' for '(' at offset %d", t.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, errors.New("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn := strings.ToLower(name.text)
	spec, ok := functions[fn]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name.text)
	}
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, fmt.Errorf("missing ')' after arguments of %s", fn)
	}
	if len(args) < spec.min || (spec.max >= 0 && len(args) > spec.max) {
		return nil, fmt.Errorf("%s takes %s arguments, got %d", fn, spec.arity(), len(args))
	}
	return call{fn: fn, args: args}, nil
}

func (p *parser) column(name string) node {
	for _, c := range p.columns {
		if c == name {
			return column(name)
		}
	}
	p.columns = append(p.columns, name)
	return column(name)
}

// evaluation

type node interface {
	eval(row Row) (any, error)
}

type (
	number  float64
	literal string
	boolean bool
	column  string
)

type negation struct{ x node }

type logical struct {
	or   bool
	l, r node
}

type comparison struct {
	op   string
	l, r node
}

type concatenation struct{ l, r node }

type arithmetic struct {
	op   string
	l, r node
}

type call struct {
	fn   string
	args []node
}

func (n number) eval(Row) (any, error)  { return float64(n), nil }
func (n literal) eval(Row) (any, error) { return string(n), nil }
func (n boolean) eval(Row) (any, error) { return bool(n), nil }
func (n column) eval(row Row) (any, error) {
	return row(string(n)), nil
}

func (n negation) eval(row Row) (any, error) {
	v, err := n.x.eval(row)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func (n logical) eval(row Row) (any, error) {
	l, err := n.l.eval(row)
	if err != nil {
		return nil, err
	}
	if truthy(l) == n.or {
		return n.or, nil
	}
	r, err := n.r.eval(row)
	if err != nil {
		return nil, err
	}
	return truthy(r), nil
}

func (n comparison) eval(row Row) (any, error) {
	l, err := n.l.eval(row)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(row)
	if err != nil {
		return nil, err
	}

	var c int
	lf, lerr := toNumber(l)
	rf, rerr := toNumber(r)
	if lerr == nil && rerr == nil {
		switch {
		case lf < rf:
			c = -1
		case lf > rf:
			c = 1
		}
	} else {
		c = strings.Compare(text(l), text(r))
	}

	switch n.op {
	case "=", "==":
		return c == 0, nil
	case "!=", "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func (n concatenation) eval(row Row) (any, error) {
	l, err := n.l.eval(row)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(row)
	if err != nil {
		return nil, err
	}
	return text(l) + text(r), nil
}

func (n arithmetic) eval(row Row) (any, error) {
	l, err := n.l.eval(row)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(row)
	if err != nil {
		return nil, err
	}
	lf, err := toNumber(l)
	if err != nil {
		return nil, err
	}
	rf, err := toNumber(r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	default:
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		return lf / rf, nil
	}
}

type funcSpec struct{ min, max int }

func (f funcSpec) arity() string {
	switch {
	case f.max < 0:
		return fmt.Sprintf("at least %d", f.min)
	case f.min == f.max:
		return strconv.Itoa(f.min)
	default:
		return fmt.Sprintf("%d to %d", f.min, f.max)
	}
}

var functions = map[string]funcSpec{
	"if":       {3, 3},
	"round":    {1, 2},
	"abs":      {1, 1},
	"trim":     {1, 1},
	"upper":    {1, 1},
	"lower":    {1, 1},
	"year":     {1, 1},
	"coalesce": {1, -1},
}

func (n call) eval(row Row) (any, error) {
	switch n.fn {
	case "if":
		c, err := n.args[0].eval(row)
		if err != nil {
			return nil, err
		}
		if truthy(c) {
			return n.args[1].eval(row)
		}
		return n.args[2].eval(row)
	case "coalesce":
		for _, a := range n.args {
			v, err := a.eval(row)
			if err != nil {
				return nil, err
			}
			if !sheet.IsEmpty(text(v)) {
				return v, nil
			}
		}
		return "", nil
	}

	vals := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(row)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	switch n.fn {
	case "round":
		f, err := toNumber(vals[0])
		if err != nil {
			return nil, err
		}
		decimals := 0.0
		if len(vals) == 2 {
			if decimals, err = toNumber(vals[1]); err != nil {
				return nil, err
			}
		}
		return sheet.Round(f, int(decimals)), nil
	case "abs":
		f, err := toNumber(vals[0])
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	case "trim":
		return strings.TrimSpace(text(vals[0])), nil
	case "upper":
		return strings.ToUpper(text(vals[0])), nil
	case "lower":
		return strings.ToLower(text(vals[0])), nil
	case "year":
		s := text(vals[0])
		if sheet.IsEmpty(s) {
			return nil, ErrEmptyOperand
		}
		d, err := sheet.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		return float64(d.Year()), nil
	}
	return nil, fmt.Errorf("%w: unknown function %s", ErrEvaluation, n.fn)
}

func toNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		if sheet.IsEmpty(x) {
			return 0, ErrEmptyOperand
		}
		f, err := sheet.ParseNumber(x)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrEvaluation, x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v is not a number", ErrEvaluation, v)
	}
}

func text(v any) string {
	switch x := v.(type) {
	case float64:
		return sheet.FormatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		s := strings.TrimSpace(x)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		if f, err := sheet.ParseNumber(s); err == nil {
			return f != 0
		}
		return s != ""
	default:
		return false
	}
}
