package script

// Expr is an expression node. Evaluation dispatches through Accept.
type Expr interface {
	Accept(v ExprVisitor) (Value, error)
}

type ExprVisitor interface {
	VisitLiteral(e *Literal) (Value, error)
	VisitGrouping(e *Grouping) (Value, error)
	VisitUnary(e *Unary) (Value, error)
	VisitBinary(e *Binary) (Value, error)
	VisitVariable(e *Variable) (Value, error)
	VisitAssign(e *Assign) (Value, error)
}

type Literal struct {
	Value Value
}

type Grouping struct {
	Expr Expr
}

type Unary struct {
	Op    Token
	Right Expr
}

type Binary struct {
	Left  Expr
	Op    Token
	Right Expr
}

type Variable struct {
	Name Token
}

type Assign struct {
	Name  Token
	Value Expr
}

func (e *Literal) Accept(v ExprVisitor) (Value, error)  { return v.VisitLiteral(e) }
func (e *Grouping) Accept(v ExprVisitor) (Value, error) { return v.VisitGrouping(e) }
func (e *Unary) Accept(v ExprVisitor) (Value, error)    { return v.VisitUnary(e) }
func (e *Binary) Accept(v ExprVisitor) (Value, error)   { return v.VisitBinary(e) }
func (e *Variable) Accept(v ExprVisitor) (Value, error) { return v.VisitVariable(e) }
func (e *Assign) Accept(v ExprVisitor) (Value, error)   { return v.VisitAssign(e) }

// Stmt is a statement node; a line of input holds exactly one.
type Stmt interface {
	Accept(v StmtVisitor) (Value, error)
}

type StmtVisitor interface {
	VisitExprStmt(s *ExprStmt) (Value, error)
	VisitVarStmt(s *VarStmt) (Value, error)
	VisitCallStmt(s *CallStmt) (Value, error)
}

type ExprStmt struct {
	Expr Expr
}

// VarStmt declares Name. Init is nil without an initialiser.
type VarStmt struct {
	Name Token
	Init Expr
}

// CallStmt is a command: a callee followed by its arguments, without
// parentheses or commas.
type CallStmt struct {
	Callee Token
	Args   []Expr
}

func (s *ExprStmt) Accept(v StmtVisitor) (Value, error) { return v.VisitExprStmt(s) }
func (s *VarStmt) Accept(v StmtVisitor) (Value, error)  { return v.VisitVarStmt(s) }
func (s *CallStmt) Accept(v StmtVisitor) (Value, error) { return v.VisitCallStmt(s) }
