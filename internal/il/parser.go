package il

import "fmt"

// Parser implements the grammar of spec §4.4:
//
//	program    := expression
//	expression := atom | form
//	form       := "(" operator operand* ")"
//	operand    := expression | metadata
//	metadata   := "{" key "=" value ("," key "=" value)* "}"
//	atom       := string | number | boolean | identifier | variable-ref
//	variable-ref := "$" identifier ("." identifier)*
//
// It is a single-pass recursive-descent parser with one token of lookahead.
// On any lexical or grammatical error it returns a *ParseError and no partial
// AST — per spec §4.4's "No partial ASTs are emitted" failure mode.
type Parser struct {
	lex  *lexer
	cur  token
	peek token
}

// Parse parses src as a single program (one top-level expression).
func Parse(src string) (Node, error) {
	p := &Parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokEOF {
		return nil, p.errorf("unexpected trailing input after program")
	}
	return node, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.peek = t
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: p.cur.pos.Line, Column: p.cur.pos.Column, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(t tokenType, what string) (token, error) {
	if p.cur.typ != t {
		return token{}, p.errorf("expected %s", what)
	}
	cur := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return cur, nil
}

// parseExpression dispatches on the current token: "(" starts a form,
// anything else must be an atom.
func (p *Parser) parseExpression() (Node, error) {
	if p.cur.typ == tokLParen {
		return p.parseForm()
	}
	return p.parseAtom()
}

func (p *Parser) parseAtom() (*Atom, error) {
	start := p.cur.pos
	switch p.cur.typ {
	case tokString:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Atom{Kind: AtomString, Str: text, span: Span{Start: start, End: p.cur.pos}}, nil
	case tokNumber:
		n := p.cur.num
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Atom{Kind: AtomNumber, Num: n, span: Span{Start: start, End: p.cur.pos}}, nil
	case tokDollar:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.typ != tokIdent {
			return nil, p.errorf("expected identifier after $")
		}
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		var path []string
		for p.cur.typ == tokDot {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.typ != tokIdent {
				return nil, p.errorf("expected a field name after '.'")
			}
			path = append(path, p.cur.text)
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		return &Atom{Kind: AtomVariableRef, Str: name, Path: path, span: Span{Start: start, End: p.cur.pos}}, nil
	case tokIdent:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch text {
		case "true":
			return &Atom{Kind: AtomBool, Bool: true, span: Span{Start: start, End: p.cur.pos}}, nil
		case "false":
			return &Atom{Kind: AtomBool, Bool: false, span: Span{Start: start, End: p.cur.pos}}, nil
		default:
			return &Atom{Kind: AtomIdentifier, Str: text, span: Span{Start: start, End: p.cur.pos}}, nil
		}
	default:
		return nil, p.errorf("expected an atom, got unexpected token")
	}
}

// parseForm parses "(" operator operand* ")", special-casing LET's
// binding-list operand and TRY's exactly-one-ON-FAIL-clause shape.
func (p *Parser) parseForm() (*Form, error) {
	start := p.cur.pos
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}

	if p.cur.typ != tokIdent {
		return nil, p.errorf("expected an operator name")
	}
	operator := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if !IsRecognizedOperator(operator) {
		return nil, &ParseError{Line: start.Line, Column: start.Column, Message: fmt.Sprintf("unrecognized operator %q", operator)}
	}

	var operands []Node
	if operator == OpLet {
		bindings, err := p.parseBindingList()
		if err != nil {
			return nil, err
		}
		operands = append(operands, bindings)
	}

	for p.cur.typ != tokRParen {
		if p.cur.typ == tokEOF {
			return nil, p.errorf("unexpected end of input inside (%s ...)", operator)
		}
		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}

	end := p.cur.pos
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}

	if operator == OpTry {
		if err := validateTryShape(operands, start); err != nil {
			return nil, err
		}
	}

	return &Form{Operator: operator, Operands: operands, span: Span{Start: start, End: end}}, nil
}

// parseOperand parses one `expression | metadata` operand.
func (p *Parser) parseOperand() (Node, error) {
	if p.cur.typ == tokLBrace {
		return p.parseMetadata()
	}
	return p.parseExpression()
}

// parseMetadata parses "{" key "=" value ("," key "=" value)* "}".
func (p *Parser) parseMetadata() (*Metadata, error) {
	start := p.cur.pos
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}

	md := &Metadata{Pairs: map[string]*Atom{}}
	if p.cur.typ != tokRBrace {
		for {
			if p.cur.typ != tokIdent {
				return nil, p.errorf("expected a metadata key")
			}
			key := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, exists := md.Pairs[key]; exists {
				return nil, &ParseError{Line: start.Line, Column: start.Column, Message: fmt.Sprintf("duplicate metadata key %q", key)}
			}
			if _, err := p.expect(tokEquals, "'='"); err != nil {
				return nil, err
			}
			value, err := p.parseAtom()
			if err != nil {
				return nil, err
			}
			md.Pairs[key] = value
			md.Order = append(md.Order, key)

			if p.cur.typ == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	end := p.cur.pos
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	md.span = Span{Start: start, End: end}
	return md, nil
}

// parseBindingList parses LET's first operand: "(" "(" name expression ")"* ")",
// rejecting duplicate binding names per spec §4.5's LET scoping rule.
func (p *Parser) parseBindingList() (*BindingList, error) {
	start := p.cur.pos
	if _, err := p.expect(tokLParen, "'(' starting LET binding list"); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	list := &BindingList{}
	for p.cur.typ != tokRParen {
		if p.cur.typ == tokEOF {
			return nil, p.errorf("unexpected end of input inside LET binding list")
		}
		binding, err := p.parseBinding()
		if err != nil {
			return nil, err
		}
		if seen[binding.Name] {
			return nil, &ParseError{Line: binding.span.Start.Line, Column: binding.span.Start.Column, Message: fmt.Sprintf("duplicate binding name %q in LET", binding.Name)}
		}
		seen[binding.Name] = true
		list.Bindings = append(list.Bindings, binding)
	}

	end := p.cur.pos
	if _, err := p.expect(tokRParen, "')' closing LET binding list"); err != nil {
		return nil, err
	}
	list.span = Span{Start: start, End: end}
	return list, nil
}

func (p *Parser) parseBinding() (*Binding, error) {
	start := p.cur.pos
	if _, err := p.expect(tokLParen, "'(' starting a binding"); err != nil {
		return nil, err
	}
	if p.cur.typ != tokIdent {
		return nil, p.errorf("expected a binding name")
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	end := p.cur.pos
	if _, err := p.expect(tokRParen, "')' closing a binding"); err != nil {
		return nil, err
	}
	return &Binding{Name: name, Value: value, span: Span{Start: start, End: end}}, nil
}

// validateTryShape enforces spec §4.4's "TRY requires exactly one ON-FAIL
// clause between the try-body and the fail-body": operands must be
// [try-body, ON-FAIL marker, fail-body].
func validateTryShape(operands []Node, formStart Position) error {
	if len(operands) != 3 {
		return &ParseError{Line: formStart.Line, Column: formStart.Column, Message: "TRY requires a try-body, exactly one ON-FAIL marker, and a fail-body"}
	}
	marker, ok := operands[1].(*Atom)
	if !ok || marker.Kind != AtomIdentifier || marker.Str != onFailKeyword {
		span := operands[1].Span()
		return &ParseError{Line: span.Start.Line, Column: span.Start.Column, Message: "expected ON-FAIL between TRY's try-body and fail-body"}
	}
	return nil
}
