package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"text/scanner"
	"time"
)

// ParseError reports a syntax error in a service description.
type ParseError struct {
	Pos scanner.Position
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ParseFile reads and parses the service description in filename.
func ParseFile(filename string) (*Program, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(filename, f)
}

// Parse parses a service description. The filename is only used in error
// positions and may be empty.
func Parse(filename string, r io.Reader) (*Program, error) {
	p := &parser{}
	p.s.Init(r)
	p.s.Filename = filename
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = &ParseError{Pos: s.Pos(), Msg: msg}
		}
	}
	p.next()

	prog := &Program{}
	for p.tok != scanner.EOF {
		svc, err := p.parseService()
		if err != nil {
			return nil, err
		}
		prog.Services = append(prog.Services, svc)
	}
	if p.err != nil {
		return nil, p.err
	}
	return prog, nil
}

type parser struct {
	s   scanner.Scanner
	tok rune
	err error // first error reported by the scanner
}

func (p *parser) next() {
	p.tok = p.s.Scan()
}

func (p *parser) text() string {
	return p.s.TokenText()
}

func (p *parser) pos() scanner.Position {
	return p.s.Position
}

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return &ParseError{Pos: p.pos(), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(kw string) bool {
	return p.tok == scanner.Ident && p.text() == kw
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errorf("expected %q, found %s", kw, p.describe())
	}
	p.next()
	return nil
}

func (p *parser) expect(r rune) error {
	if p.tok != r {
		return p.errorf("expected %q, found %s", string(r), p.describe())
	}
	p.next()
	return nil
}

func (p *parser) ident(what string) (string, error) {
	if p.tok != scanner.Ident {
		return "", p.errorf("expected %s, found %s", what, p.describe())
	}
	name := p.text()
	p.next()
	return name, nil
}

func (p *parser) str() (string, error) {
	if p.tok != scanner.String {
		return "", p.errorf("expected string literal, found %s", p.describe())
	}
	s, err := strconv.Unquote(p.text())
	if err != nil {
		return "", p.errorf("invalid string literal %s", p.text())
	}
	p.next()
	return s, nil
}

func (p *parser) describe() string {
	if p.tok == scanner.EOF {
		return "end of file"
	}
	return strconv.Quote(p.text())
}

func (p *parser) parseService() (*ServiceDefinition, error) {
	pos := p.pos()
	if err := p.expectKeyword("service"); err != nil {
		return nil, err
	}
	name, err := p.ident("service name")
	if err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	svc := &ServiceDefinition{Name: name, Pos: pos}
	for p.tok != '}' {
		switch {
		case p.isKeyword("method"):
			m, err := p.parseMethod()
			if err != nil {
				return nil, err
			}
			svc.Methods = append(svc.Methods, m)
		case p.isKeyword("loop"):
			loopPos := p.pos()
			p.next()
			stmts, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			svc.Loops = append(svc.Loops, &LoopBody{Statements: stmts, Pos: loopPos})
		default:
			return nil, p.errorf("expected \"method\", \"loop\" or \"}\" in service %s, found %s", name, p.describe())
		}
	}
	p.next()
	return svc, nil
}

func (p *parser) parseMethod() (*MethodDefinition, error) {
	pos := p.pos()
	p.next()
	name, err := p.ident("method name")
	if err != nil {
		return nil, err
	}
	stmts, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &MethodDefinition{Name: name, Statements: stmts, Pos: pos}, nil
}

func (p *parser) parseBlock() ([]Statement, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	var stmts []Statement
	for p.tok != '}' {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	p.next()
	return stmts, nil
}

func (p *parser) parseStatement() (Statement, error) {
	if p.tok != scanner.Ident {
		return nil, p.errorf("expected statement, found %s", p.describe())
	}
	var stmt Statement
	var err error
	switch p.text() {
	case "print", "stderr":
		stmt, err = p.parsePrint()
	case "sleep":
		stmt, err = p.parseSleep()
	case "call":
		stmt, err = p.parseCall()
	default:
		return nil, p.errorf("unknown statement %s", p.describe())
	}
	if err != nil {
		return nil, err
	}
	if p.tok == ';' {
		p.next()
	}
	return stmt, nil
}

func (p *parser) parsePrint() (Statement, error) {
	stmt := &PrintStatement{Pos: p.pos()}
	if p.text() == "stderr" {
		stmt.Channel = Stderr
	}
	p.next()
	tmpl, err := p.str()
	if err != nil {
		return nil, err
	}
	stmt.Template = tmpl
	if !p.isKeyword("with") {
		return stmt, nil
	}
	p.next()
	if err := p.expect('['); err != nil {
		return nil, err
	}
	stmt.Vars = []string{}
	for p.tok != ']' {
		v, err := p.str()
		if err != nil {
			return nil, err
		}
		stmt.Vars = append(stmt.Vars, v)
		if p.tok != ',' {
			break
		}
		p.next()
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseSleep() (Statement, error) {
	pos := p.pos()
	p.next()
	if p.tok != scanner.Int {
		return nil, p.errorf("expected duration, found %s", p.describe())
	}
	n, err := strconv.ParseInt(p.text(), 10, 64)
	if err != nil || n < 0 {
		return nil, p.errorf("invalid duration %s", p.text())
	}
	p.next()
	unit, err := p.ident("time unit")
	if err != nil {
		return nil, err
	}
	var scale time.Duration
	switch unit {
	case "ms":
		scale = time.Millisecond
	case "s":
		scale = time.Second
	default:
		return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("invalid time unit %q (want ms or s)", unit)}
	}
	if n > math.MaxInt64/int64(scale) {
		return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("invalid duration %d%s", n, unit)}
	}
	return &SleepStatement{Duration: time.Duration(n) * scale, Pos: pos}, nil
}

func (p *parser) parseCall() (Statement, error) {
	stmt := &CallStatement{Pos: p.pos()}
	p.next()
	name, err := p.ident("method name")
	if err != nil {
		return nil, err
	}
	if p.tok != '.' {
		stmt.Method = name
		return stmt, nil
	}
	p.next()
	method, err := p.ident("method name")
	if err != nil {
		return nil, err
	}
	stmt.Service = name
	stmt.Method = method
	return stmt, nil
}
