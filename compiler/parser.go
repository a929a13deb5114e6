package compiler

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Tubular
// ---------------------------------------------------------------------------

// Parser parses Tubular source into a Program tree. The first error aborts
// parsing; there is no resynchronisation.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	err       *Error
}

// bailout unwinds the parser after the first error.
type bailout struct{}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	return &Parser{lexer: NewLexer(input)}
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.curToken.Type == TokenError {
		p.fail(p.curToken.Pos, StageLexer, "%s", p.curToken.Literal)
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// curOperatorIs checks for a specific operator.
func (p *Parser) curOperatorIs(op string) bool {
	return p.curToken.Type == TokenOperator && p.curToken.Literal == op
}

// expect consumes a token of type t or fails with msg.
func (p *Parser) expect(t TokenType, msg string) Token {
	tok := p.curToken
	if tok.Type != t {
		p.errorf("%s (found %s)", msg, describeToken(tok))
	}
	p.nextToken()
	return tok
}

// errorf fails at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.fail(p.curToken.Pos, StageParser, format, args...)
}

func (p *Parser) fail(pos FilePos, stage Stage, format string, args ...interface{}) {
	p.err = errorAt(pos, stage, ErrSyntax, format, args...)
	panic(bailout{})
}

// Err returns the error that stopped parsing, if any.
func (p *Parser) Err() error {
	if p.err == nil {
		return nil
	}
	return p.err
}

func describeToken(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of file"
	case TokenIdentifier, TokenInteger, TokenOperator, TokenTypeName:
		return "'" + tok.Literal + "'"
	case TokenString:
		return "string " + strconv.Quote(tok.Literal)
	case TokenChar:
		return "character " + strconv.QuoteRune(rune(tok.Literal[0]))
	}
	return "'" + tok.Type.String() + "'"
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses a whole source file: a sequence of functions.
func (p *Parser) ParseProgram() (prog *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			prog, err = nil, p.err
		}
	}()

	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()

	prog = NewProgram(p.curToken.Pos)
	for !p.curTokenIs(TokenEOF) {
		prog.AddChild(p.parseFunction())
	}
	return prog, nil
}

// ParseStatement parses a single statement, for tests and tools.
func (p *Parser) ParseStatement() (stmt Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			stmt, err = nil, p.err
		}
	}()
	p.nextToken()
	p.nextToken()
	return p.parseStatement(), nil
}

// parseFunction parses: function NAME ( params ) [: TYPE] block
func (p *Parser) parseFunction() *Function {
	pos := p.expect(TokenFunction, "expected a function definition").Pos
	name := p.expect(TokenIdentifier, "expected a function name").Literal

	p.expect(TokenLParen, "expected '(' after the function name")
	var params []ParamDecl
	for !p.curTokenIs(TokenRParen) {
		if len(params) > 0 {
			p.expect(TokenComma, "expected ',' between parameters")
		}
		typ := p.parseType()
		tok := p.expect(TokenIdentifier, "expected a parameter name")
		params = append(params, ParamDecl{Name: tok.Literal, Type: typ, Pos: tok.Pos})
	}
	p.nextToken() // consume )

	ret := NoType
	if p.curTokenIs(TokenColon) {
		p.nextToken()
		ret = p.parseType()
	}

	return NewFunction(pos, name, params, ret, p.parseBlock())
}

// parseType parses a type keyword.
func (p *Parser) parseType() Type {
	tok := p.expect(TokenTypeName, "expected a type")
	typ, ok := TypeByName(tok.Literal)
	if !ok {
		p.fail(tok.Pos, StageParser, "unknown type '%s'", tok.Literal)
	}
	return typ
}

// parseBlock parses { statement* }
func (p *Parser) parseBlock() *Block {
	pos := p.expect(TokenLBrace, "statement blocks must start with '{'").Pos
	block := NewBlock(pos)
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		if stmt := p.parseStatement(); stmt != nil {
			block.AddChild(stmt)
		}
	}
	p.expect(TokenRBrace, "statement blocks must end with '}'")
	return block
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseStatement dispatches on the current token. An empty statement
// yields nil.
func (p *Parser) parseStatement() Node {
	switch p.curToken.Type {
	case TokenTypeName:
		return p.parseDeclare()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenReturn:
		return p.parseReturn()
	case TokenBreak:
		pos := p.curToken.Pos
		p.nextToken()
		p.expect(TokenSemicolon, "expected ';' after 'break'")
		return NewBreak(pos)
	case TokenContinue:
		pos := p.curToken.Pos
		p.nextToken()
		p.expect(TokenSemicolon, "expected ';' after 'continue'")
		return NewContinue(pos)
	case TokenLBrace:
		return p.parseBlock()
	case TokenSemicolon:
		p.nextToken()
		return nil
	}

	expr := p.parseExpression(1)
	p.expect(TokenSemicolon, "expected ';' after expression")
	return expr
}

// parseDeclare parses TYPE NAME [= expr] ;
func (p *Parser) parseDeclare() Node {
	pos := p.curToken.Pos
	typ := p.parseType()
	name := p.expect(TokenIdentifier, "expected a variable name").Literal

	var init Node
	if p.curOperatorIs("=") {
		p.nextToken()
		init = p.parseExpression(1)
	}
	p.expect(TokenSemicolon, "expected ';' after declaration")
	return NewDeclare(pos, name, typ, init)
}

// parseIf parses if ( expr ) statement [else statement]
func (p *Parser) parseIf() Node {
	pos := p.curToken.Pos
	p.nextToken()
	p.expect(TokenLParen, "expected '(' after 'if'")
	cond := p.parseExpression(1)
	p.expect(TokenRParen, "expected ')' after the if condition")

	then := p.parseBranch()
	var otherwise Node
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		otherwise = p.parseBranch()
	}
	return NewIf(pos, cond, then, otherwise)
}

// parseWhile parses while ( expr ) statement
func (p *Parser) parseWhile() Node {
	pos := p.curToken.Pos
	p.nextToken()
	p.expect(TokenLParen, "expected '(' after 'while'")
	cond := p.parseExpression(1)
	p.expect(TokenRParen, "expected ')' after the while condition")
	return NewWhile(pos, cond, p.parseBranch())
}

// parseBranch parses the body of an if or while; an empty statement
// becomes an empty block.
func (p *Parser) parseBranch() Node {
	pos := p.curToken.Pos
	if stmt := p.parseStatement(); stmt != nil {
		return stmt
	}
	return NewBlock(pos)
}

// parseReturn parses return [expr] ;
func (p *Parser) parseReturn() Node {
	pos := p.curToken.Pos
	p.nextToken()
	var value Node
	if !p.curTokenIs(TokenSemicolon) {
		value = p.parseExpression(1)
	}
	p.expect(TokenSemicolon, "expected ';' after return")
	return NewReturn(pos, value)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpression parses operators of at least minLevel by precedence
// climbing over the binaryOps table.
func (p *Parser) parseExpression(minLevel int) Node {
	lhs := p.parseUnary()

	for p.curTokenIs(TokenOperator) {
		op := p.curToken.Literal
		info, ok := binaryOps[op]
		if !ok || info.level < minLevel {
			break
		}
		pos := p.curToken.Pos
		p.nextToken()

		next := info.level + 1
		if info.assoc == 'r' {
			next = info.level
		}
		rhs := p.parseExpression(next)

		if op == "=" {
			target, isVar := lhs.(*Var)
			if !isVar {
				p.fail(pos, StageParser, "the left side of '=' must be a variable")
			}
			lhs = NewAssign(pos, target.Name, rhs)
		} else {
			lhs = NewBinaryOp(pos, op, lhs, rhs)
		}

		if info.assoc == 'n' && p.curTokenIs(TokenOperator) {
			if follow, ok := binaryOps[p.curToken.Literal]; ok && follow.level == info.level {
				p.errorf("operator '%s' is non-associative", p.curToken.Literal)
			}
		}
	}
	return lhs
}

// parseUnary parses prefix '-' and '!'. The literal 2147483648 only fits
// negated, so "-2147483648" becomes a single literal.
func (p *Parser) parseUnary() Node {
	if p.curOperatorIs("-") || p.curOperatorIs("!") {
		tok := p.curToken
		p.nextToken()
		if tok.Literal == "-" && p.curToken.Type == TokenInteger {
			if v, err := strconv.ParseInt(p.curToken.Literal, 10, 64); err == nil && v == 1<<31 {
				p.nextToken()
				return NewIntLit(tok.Pos, -1<<31)
			}
		}
		return NewUnaryOp(tok.Pos, tok.Literal, p.parseUnary())
	}
	return p.parsePostfix()
}

// parsePostfix parses indexing: primary [ expr ] ...
func (p *Parser) parsePostfix() Node {
	expr := p.parsePrimary()
	for p.curTokenIs(TokenLBracket) {
		pos := p.curToken.Pos
		p.nextToken()
		idx := p.parseExpression(1)
		p.expect(TokenRBracket, "expected ']' after index")
		expr = NewIndex(pos, expr, idx)
	}
	return expr
}

// parsePrimary parses literals, variables, calls and parentheses.
func (p *Parser) parsePrimary() Node {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 32)
		if err != nil {
			p.fail(tok.Pos, StageParser, "integer literal %s out of range", tok.Literal)
		}
		return NewIntLit(tok.Pos, int32(v))

	case TokenChar:
		p.nextToken()
		return NewCharLit(tok.Pos, tok.Literal[0])

	case TokenString:
		p.nextToken()
		return NewStringLit(tok.Pos, tok.Literal)

	case TokenIdentifier:
		p.nextToken()
		if !p.curTokenIs(TokenLParen) {
			return NewVar(tok.Pos, tok.Literal)
		}
		p.nextToken()
		call := NewCall(tok.Pos, tok.Literal)
		for !p.curTokenIs(TokenRParen) {
			if call.NumChildren() > 0 {
				p.expect(TokenComma, "expected ',' between arguments")
			}
			call.AddChild(p.parseExpression(1))
		}
		p.nextToken() // consume )
		return call

	case TokenLParen:
		p.nextToken()
		expr := p.parseExpression(1)
		p.expect(TokenRParen, "expected ')'")
		return expr
	}

	p.errorf("expected an expression, found %s", describeToken(tok))
	return nil
}
