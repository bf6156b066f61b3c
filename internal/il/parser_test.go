package il

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleQuery(t *testing.T) {
	node, err := Parse(`(QUERY "what happened yesterday" {kind=episodic, k=5})`)
	require.NoError(t, err)

	form, ok := node.(*Form)
	require.True(t, ok)
	assert.Equal(t, OpQuery, form.Operator)
	require.Len(t, form.Operands, 2)

	text, ok := form.Operands[0].(*Atom)
	require.True(t, ok)
	assert.Equal(t, AtomString, text.Kind)
	assert.Equal(t, "what happened yesterday", text.Str)

	md, ok := form.Operands[1].(*Metadata)
	require.True(t, ok)
	kind, ok := md.Get("kind")
	require.True(t, ok)
	assert.Equal(t, "episodic", kind.Str)
	k, ok := md.Get("k")
	require.True(t, ok)
	assert.Equal(t, float64(5), k.Num)
}

func TestParseNestedForm(t *testing.T) {
	node, err := Parse(`(EXECUTE "search" (QUERY "x") {timeout=30})`)
	require.NoError(t, err)

	form := node.(*Form)
	assert.Equal(t, OpExecute, form.Operator)
	require.Len(t, form.Operands, 3)
	_, ok := form.Operands[1].(*Form)
	assert.True(t, ok)
}

func TestParseVariableRef(t *testing.T) {
	node, err := Parse(`(COMMUNICATE $agent-id "hello")`)
	require.NoError(t, err)

	form := node.(*Form)
	ref, ok := form.Operands[0].(*Atom)
	require.True(t, ok)
	assert.Equal(t, AtomVariableRef, ref.Kind)
	assert.Equal(t, "agent-id", ref.Str)
}

func TestParseVariableRefMemberAccess(t *testing.T) {
	node, err := Parse(`(COMMUNICATE $agent-id $error.source-span.line)`)
	require.NoError(t, err)

	form := node.(*Form)
	ref, ok := form.Operands[1].(*Atom)
	require.True(t, ok)
	assert.Equal(t, AtomVariableRef, ref.Kind)
	assert.Equal(t, "error", ref.Str)
	assert.Equal(t, []string{"source-span", "line"}, ref.Path)
}

func TestParseVariableRefMemberAccessRejectsTrailingDot(t *testing.T) {
	_, err := Parse(`(COMMUNICATE $error.)`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseLetBindingList(t *testing.T) {
	node, err := Parse(`(LET ((x 1) (y "two")) (COMMUNICATE $x $y))`)
	require.NoError(t, err)

	form := node.(*Form)
	assert.Equal(t, OpLet, form.Operator)
	require.Len(t, form.Operands, 2)

	bindings, ok := form.Operands[0].(*BindingList)
	require.True(t, ok)
	require.Len(t, bindings.Bindings, 2)
	assert.Equal(t, "x", bindings.Bindings[0].Name)
	assert.Equal(t, "y", bindings.Bindings[1].Name)
}

func TestParseLetRejectsDuplicateBindingNames(t *testing.T) {
	_, err := Parse(`(LET ((x 1) (x 2)) (EXECUTE "noop"))`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseTryRequiresOnFail(t *testing.T) {
	_, err := Parse(`(TRY (EXECUTE "a") (EXECUTE "b"))`)
	require.Error(t, err)
}

func TestParseTryWithOnFail(t *testing.T) {
	node, err := Parse(`(TRY (EXECUTE "a") ON-FAIL (COMMUNICATE $error "failed"))`)
	require.NoError(t, err)

	form := node.(*Form)
	assert.Equal(t, OpTry, form.Operator)
	require.Len(t, form.Operands, 3)
}

func TestParseUnknownOperator(t *testing.T) {
	_, err := Parse(`(FLY "away")`)
	require.Error(t, err)
}

func TestParseUnterminatedForm(t *testing.T) {
	_, err := Parse(`(QUERY "no closing paren"`)
	require.Error(t, err)
}

func TestParseBooleanAtom(t *testing.T) {
	node, err := Parse(`(EXECUTE "tool" {dry-run=true})`)
	require.NoError(t, err)
	form := node.(*Form)
	md := form.Operands[1].(*Metadata)
	v, ok := md.Get("dry-run")
	require.True(t, ok)
	assert.Equal(t, AtomBool, v.Kind)
	assert.True(t, v.Bool)
}

func TestParseStringEscapes(t *testing.T) {
	node, err := Parse(`(EXECUTE "line\nnext \"quoted\" \\done")`)
	require.NoError(t, err)
	form := node.(*Form)
	atom := form.Operands[0].(*Atom)
	assert.Equal(t, "line\nnext \"quoted\" \\done", atom.Str)
}

func TestParseNegativeAndFractionalNumbers(t *testing.T) {
	node, err := Parse(`(EXECUTE "tool" {threshold=-0.25})`)
	require.NoError(t, err)
	form := node.(*Form)
	md := form.Operands[1].(*Metadata)
	v, _ := md.Get("threshold")
	assert.Equal(t, -0.25, v.Num)
}

func TestParseReportsLineAndColumn(t *testing.T) {
	_, err := Parse("(QUERY \"ok\")\n(FLY \"bad\")")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
}
