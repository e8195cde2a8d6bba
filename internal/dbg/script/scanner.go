package script

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ScanError is an input character the scanner could not make sense of.
type ScanError struct {
	Col int
	Msg string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("[col %d] Error: %s", e.Col, e.Msg)
}

// Scanner splits one line of input into tokens. A '#' starts a comment
// that runs to the end of the line.
type Scanner struct {
	src    string
	start  int
	pos    int
	tokens []Token
}

func NewScanner(src string) *Scanner {
	return &Scanner{src: src}
}

// Scan returns the tokens of the line, always terminated by an End token.
func (s *Scanner) Scan() ([]Token, error) {
	for !s.atEnd() {
		s.start = s.pos
		if err := s.scanToken(); err != nil {
			return nil, err
		}
	}
	s.tokens = append(s.tokens, Token{Type: End, Col: s.pos + 1})
	return s.tokens, nil
}

func (s *Scanner) scanToken() error {
	c := s.advance()
	switch c {
	case ' ', '\t', '\r', '\n':
	case '#':
		s.pos = len(s.src)
	case '(':
		s.add(LeftParen, nil)
	case ')':
		s.add(RightParen, nil)
	case '-':
		s.add(Minus, nil)
	case '+':
		s.add(Plus, nil)
	case '*':
		s.add(Star, nil)
	case '/':
		s.add(Slash, nil)
	case '!':
		s.addPair('=', BangEqual, Bang)
	case '=':
		s.addPair('=', EqualEqual, Equal)
	case '<':
		s.addPair('=', LessEqual, Less)
	case '>':
		s.addPair('=', GreaterEqual, Greater)
	case '"':
		return s.string()
	default:
		switch {
		case isDigit(c):
			return s.number()
		case isAlpha(c):
			s.identifier()
		default:
			return s.errorf("Unexpected character")
		}
	}
	return nil
}

func (s *Scanner) string() error {
	for !s.atEnd() && s.peek() != '"' {
		s.pos++
	}
	if s.atEnd() {
		return s.errorf("Unterminated string")
	}
	s.pos++
	s.add(String, s.src[s.start+1:s.pos-1])
	return nil
}

func (s *Scanner) number() error {
	if s.src[s.start] == '0' && (s.peek() == 'x' || s.peek() == 'X') {
		s.pos++
		for isHexDigit(s.peek()) {
			s.pos++
		}
		v, err := strconv.ParseUint(s.src[s.start+2:s.pos], 16, 64)
		switch {
		case errors.Is(err, strconv.ErrRange):
			s.add(Number, math.Inf(1))
		case err != nil:
			return s.errorf("Invalid number")
		default:
			s.add(Number, float64(v))
		}
		return nil
	}

	for isDigit(s.peek()) {
		s.pos++
	}
	if s.peek() == '.' {
		s.pos++
		if !isDigit(s.peek()) {
			s.start = s.pos
			return s.errorf("Unexpected character")
		}
		for isDigit(s.peek()) {
			s.pos++
		}
	}
	// out of range literals become infinities
	v, err := strconv.ParseFloat(s.src[s.start:s.pos], 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return s.errorf("Invalid number")
	}
	s.add(Number, v)
	return nil
}

func (s *Scanner) identifier() {
	for isAlpha(s.peek()) || isDigit(s.peek()) {
		s.pos++
	}
	text := s.src[s.start:s.pos]
	if typ, ok := keywords[text]; ok {
		s.add(typ, nil)
		return
	}
	s.add(Identifier, nil)
}

func (s *Scanner) addPair(next byte, two, one TokenType) {
	if s.peek() == next {
		s.pos++
		s.add(two, nil)
		return
	}
	s.add(one, nil)
}

func (s *Scanner) add(typ TokenType, lit Value) {
	s.tokens = append(s.tokens, Token{
		Type:    typ,
		Lexeme:  s.src[s.start:s.pos],
		Literal: lit,
		Col:     s.start + 1,
	})
}

func (s *Scanner) errorf(msg string) error {
	return &ScanError{Col: s.start + 1, Msg: msg}
}

func (s *Scanner) advance() byte {
	c := s.src[s.pos]
	s.pos++
	return c
}

func (s *Scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.src[s.pos]
}

func (s *Scanner) atEnd() bool {
	return s.pos >= len(s.src)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
