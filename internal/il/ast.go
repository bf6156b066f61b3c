// Package il implements the instruction-language parser (spec §4.4): a
// hand-rolled recursive-descent lexer and parser over the S-expression-like
// grammar the kernel evaluates. No S-expression parsing library appears
// anywhere in the example pack, and the grammar is small and bespoke
// (operator arity rules, inline metadata blocks, variable-ref sigil), so
// this stays a stdlib-only component; see DESIGN.md.
package il

// Position is a 1-indexed line/column plus a 0-indexed byte offset into the
// source, carried on every AST node for error reporting (spec §4.4: "source
// location information (line, column, span)").
type Position struct {
	Line   int
	Column int
	Offset int
}

// Span covers a node from its first to its last byte.
type Span struct {
	Start Position
	End   Position
}

// Node is any parsed construct: an Atom, a Form, a Metadata block, or a
// BindingList (LET's binding-list operand, which the grammar special-cases).
type Node interface {
	Span() Span
}

// AtomKind discriminates the atom variants of the grammar's `atom` rule.
type AtomKind int

const (
	AtomString AtomKind = iota
	AtomNumber
	AtomBool
	AtomIdentifier
	AtomVariableRef
)

func (k AtomKind) String() string {
	switch k {
	case AtomString:
		return "string"
	case AtomNumber:
		return "number"
	case AtomBool:
		return "boolean"
	case AtomIdentifier:
		return "identifier"
	case AtomVariableRef:
		return "variable-ref"
	default:
		return "unknown"
	}
}

// Atom is a leaf value: a string, number, boolean, bare identifier, or a
// `$name` variable reference.
type Atom struct {
	Kind AtomKind
	Str  string // STRING, IDENTIFIER, VARIABLE-REF payload (name, without $)
	Num  float64
	Bool bool
	// Path holds the dotted field suffixes of a variable reference, e.g.
	// `$error.kind` lexes as Str="error", Path=["kind"]. Empty for every
	// other atom kind and for a bare `$name` reference.
	Path []string
	span Span
}

func (a *Atom) Span() Span { return a.span }

// Metadata is an operand of the form `{key=value, key=value}` (grammar's
// `metadata` rule). Values are atoms; the grammar does not allow nested
// forms inside metadata.
type Metadata struct {
	Pairs map[string]*Atom
	Order []string // insertion order, for deterministic re-serialization
	span  Span
}

func (m *Metadata) Span() Span { return m.span }

func (m *Metadata) Get(key string) (*Atom, bool) {
	v, ok := m.Pairs[key]
	return v, ok
}

// Binding is one `(name expression)` pair inside a LET binding list.
type Binding struct {
	Name  string
	Value Node
	span  Span
}

func (b *Binding) Span() Span { return b.span }

// BindingList is LET's first operand: `((v1 e1) (v2 e2) ...)`.
type BindingList struct {
	Bindings []*Binding
	span     Span
}

func (b *BindingList) Span() Span { return b.span }

// Form is `(OPERATOR operand*)`, tagged by its upper-case-with-hyphens
// operator name (spec §4.4's "recognized operators" table).
type Form struct {
	Operator string
	Operands []Node
	span     Span
}

func (f *Form) Span() Span { return f.span }

// Recognized operators (spec §4.4). The parser validates membership; the
// kernel (internal/kernel) owns per-operator arity/evaluation semantics.
const (
	OpQuery             = "QUERY"
	OpExecute           = "EXECUTE"
	OpPlan              = "PLAN"
	OpCommunicate       = "COMMUNICATE"
	OpLet               = "LET"
	OpTry               = "TRY"
	OpAwait             = "AWAIT"
	OpSandboxedExecute  = "SANDBOXED-EXECUTE"
	OpClarify           = "CLARIFY"
	OpEvent             = "EVENT"
	onFailKeyword       = "ON-FAIL"
)

func IsRecognizedOperator(op string) bool {
	switch op {
	case OpQuery, OpExecute, OpPlan, OpCommunicate, OpLet, OpTry, OpAwait,
		OpSandboxedExecute, OpClarify, OpEvent:
		return true
	}
	return false
}
