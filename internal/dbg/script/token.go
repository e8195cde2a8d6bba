package script

import "fmt"

type TokenType int

const (
	LeftParen TokenType = iota
	RightParen
	Minus
	Plus
	Slash
	Star
	Bang
	BangEqual
	Equal
	EqualEqual
	Greater
	GreaterEqual
	Less
	LessEqual
	Identifier
	String
	Number
	Nil
	True
	False
	Var
	End
)

var tokenNames = [...]string{
	LeftParen:    "(",
	RightParen:   ")",
	Minus:        "-",
	Plus:         "+",
	Slash:        "/",
	Star:         "*",
	Bang:         "!",
	BangEqual:    "!=",
	Equal:        "=",
	EqualEqual:   "==",
	Greater:      ">",
	GreaterEqual: ">=",
	Less:         "<",
	LessEqual:    "<=",
	Identifier:   "identifier",
	String:       "string",
	Number:       "number",
	Nil:          "nil",
	True:         "true",
	False:        "false",
	Var:          "var",
	End:          "end",
}

func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

var keywords = map[string]TokenType{
	"var":   Var,
	"true":  True,
	"false": False,
	"nil":   Nil,
}

// Token is one lexeme. Literal holds the value of strings and numbers.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal Value
	Col     int
}

func (t Token) String() string {
	if t.Type == End {
		return "end"
	}
	return fmt.Sprintf("'%s'", t.Lexeme)
}
