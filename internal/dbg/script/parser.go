package script

import "fmt"

// ParseError is a syntax error at Token.
type ParseError struct {
	Token Token
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token.Type == End {
		return fmt.Sprintf("[col %d] Error at end: %s", e.Token.Col, e.Msg)
	}
	return fmt.Sprintf("[col %d] Error at %s: %s", e.Token.Col, e.Token, e.Msg)
}

// Parser is a recursive descent parser for one statement.
//
//	declaration → "var" IDENT ( "=" expression )? END | statement
//	statement   → IDENT argument* END | expression END
//	expression  → assignment
//	assignment  → IDENT "=" assignment | equality
//	equality    → comparison ( ( "!=" | "==" ) comparison )*
//	comparison  → term ( ( ">" | ">=" | "<" | "<=" ) term )*
//	term        → factor ( ( "-" | "+" ) factor )*
//	factor      → unary ( ( "/" | "*" ) unary )*
//	unary       → ( "!" | "-" ) unary | primary
//	primary     → NUMBER | STRING | "true" | "false" | "nil" | IDENT | "(" expression ")"
type Parser struct {
	tokens  []Token
	current int
}

func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

func (p *Parser) Parse() (Stmt, error) {
	if p.match(Var) {
		return p.varDeclaration()
	}
	return p.statement()
}

func (p *Parser) varDeclaration() (Stmt, error) {
	name, err := p.consume(Identifier, "Expect variable name.")
	if err != nil {
		return nil, err
	}
	var init Expr
	if p.match(Equal) {
		if init, err = p.expression(); err != nil {
			return nil, err
		}
	}
	if _, err := p.consume(End, "Expect end of line after variable declaration."); err != nil {
		return nil, err
	}
	return &VarStmt{Name: name, Init: init}, nil
}

// callStart lists what may follow the callee of a call statement.
var callStart = []TokenType{Identifier, Number, String, LeftParen, True, False, Nil, End}

func (p *Parser) statement() (Stmt, error) {
	if p.check(Identifier) && p.checkNext(callStart...) {
		return p.callStatement()
	}
	return p.expressionStatement()
}

func (p *Parser) callStatement() (Stmt, error) {
	callee := p.advance()
	var args []Expr
	for !p.check(End) {
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.advance()
	return &CallStmt{Callee: callee, Args: args}, nil
}

func (p *Parser) expressionStatement() (Stmt, error) {
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(End, "Expect end of line after expression."); err != nil {
		return nil, err
	}
	return &ExprStmt{Expr: expr}, nil
}

func (p *Parser) expression() (Expr, error) {
	return p.assignment()
}

func (p *Parser) assignment() (Expr, error) {
	expr, err := p.equality()
	if err != nil {
		return nil, err
	}
	if !p.match(Equal) {
		return expr, nil
	}

	equals := p.previous()
	value, err := p.assignment()
	if err != nil {
		return nil, err
	}
	if v, ok := expr.(*Variable); ok {
		return &Assign{Name: v.Name, Value: value}, nil
	}
	return nil, &ParseError{Token: equals, Msg: "Invalid assignment target."}
}

// binary parses a left associative chain of operands joined by ops.
func (p *Parser) binary(operand func() (Expr, error), ops ...TokenType) (Expr, error) {
	expr, err := operand()
	if err != nil {
		return nil, err
	}
	for p.match(ops...) {
		op := p.previous()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Left: expr, Op: op, Right: right}
	}
	return expr, nil
}

func (p *Parser) equality() (Expr, error) {
	return p.binary(p.comparison, BangEqual, EqualEqual)
}

func (p *Parser) comparison() (Expr, error) {
	return p.binary(p.term, Greater, GreaterEqual, Less, LessEqual)
}

func (p *Parser) term() (Expr, error) {
	return p.binary(p.factor, Minus, Plus)
}

func (p *Parser) factor() (Expr, error) {
	return p.binary(p.unary, Slash, Star)
}

func (p *Parser) unary() (Expr, error) {
	if p.match(Bang, Minus) {
		op := p.previous()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, Right: right}, nil
	}
	return p.primary()
}

func (p *Parser) primary() (Expr, error) {
	switch {
	case p.match(False):
		return &Literal{Value: false}, nil
	case p.match(True):
		return &Literal{Value: true}, nil
	case p.match(Nil):
		return &Literal{Value: nil}, nil
	case p.match(Number, String):
		return &Literal{Value: p.previous().Literal}, nil
	case p.match(Identifier):
		return &Variable{Name: p.previous()}, nil
	case p.match(LeftParen):
		expr, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(RightParen, "Expect ')' after expression."); err != nil {
			return nil, err
		}
		return &Grouping{Expr: expr}, nil
	}
	return nil, &ParseError{Token: p.peek(), Msg: "Expect expression."}
}

func (p *Parser) match(types ...TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) consume(t TokenType, msg string) (Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return Token{}, &ParseError{Token: p.peek(), Msg: msg}
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) checkNext(types ...TokenType) bool {
	if p.current+1 >= len(p.tokens) {
		return false
	}
	next := p.tokens[p.current+1].Type
	for _, t := range types {
		if next == t {
			return true
		}
	}
	return false
}

func (p *Parser) advance() Token {
	if !p.check(End) {
		p.current++
	}
	return p.previous()
}

func (p *Parser) previous() Token {
	if p.current == 0 {
		return p.tokens[0]
	}
	return p.tokens[p.current-1]
}

func (p *Parser) peek() Token {
	return p.tokens[p.current]
}
