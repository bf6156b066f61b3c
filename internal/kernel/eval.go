package kernel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/il"
)

// evaluator walks one cognition's AST. It is never shared across
// cognitions — each Submit call constructs its own, so no locking is
// needed around scope or dispatch.
type evaluator struct {
	kernel *Kernel
	cog    *cognition
}

// eval dispatches on the dynamic node type: atoms resolve to Go values,
// forms dispatch to their operator handler. Metadata and BindingList nodes
// only ever appear as operands consumed directly by their owning form
// (metadata by every operator, BindingList only by LET), so they are not
// valid top-level expressions.
func (e *evaluator) eval(ctx context.Context, node il.Node, scope *domain.Scope) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyCtxErr(err)
	}

	switch n := node.(type) {
	case *il.Atom:
		return e.evalAtom(n, scope)
	case *il.Form:
		return e.evalForm(ctx, n, scope)
	default:
		return nil, coreerr.Newf("kernel.eval", "ParseError", "unexpected node of type %T in expression position", node)
	}
}

func classifyCtxErr(err error) error {
	if err == context.DeadlineExceeded {
		return coreerr.New("kernel.eval", "CognitionTimeout", coreerr.ErrCognitionTimeout)
	}
	return coreerr.New("kernel.eval", "Cancelled", coreerr.ErrCancelled)
}

// suspendErr classifies an error returned from a suspension-point call
// (memory/tool/agent/bus I/O, spec §5): if the cognition's own context
// was cancelled or timed out, that classification wins over whatever raw
// error the callee happened to return, since most Go clients just surface
// ctx.Err() verbatim rather than a kernel-recognized sentinel.
func suspendErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return classifyCtxErr(ctx.Err())
	}
	return err
}

func (e *evaluator) evalAtom(a *il.Atom, scope *domain.Scope) (interface{}, error) {
	switch a.Kind {
	case il.AtomString:
		return a.Str, nil
	case il.AtomNumber:
		return a.Num, nil
	case il.AtomBool:
		return a.Bool, nil
	case il.AtomIdentifier:
		return a.Str, nil
	case il.AtomVariableRef:
		v, ok := scope.Lookup(a.Str)
		if !ok {
			return nil, coreerr.New("kernel.eval", "UnknownVariable", fmt.Errorf("%w: %s", coreerr.ErrUnknownVariable, domain.ErrUnknownVariableMessage(a.Str)))
		}
		return resolvePath(a.Str, v, a.Path)
	default:
		return nil, coreerr.Newf("kernel.eval", "ParseError", "unknown atom kind %v", a.Kind)
	}
}

// evalString evaluates an operand that the grammar requires to resolve
// to a string (a tool name, a recipient, an intent).
func (e *evaluator) evalString(ctx context.Context, node il.Node, scope *domain.Scope, what string) (string, error) {
	v, err := e.eval(ctx, node, scope)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", coreerr.Newf("kernel.eval", "ArgumentError", "%s must evaluate to a string, got %T", what, v)
	}
	return s, nil
}

// metadataToMap flattens a parsed Metadata operand into plain Go values,
// resolving any variable-ref values against scope (e.g. {text=$message}).
func (e *evaluator) metadataToMap(md *il.Metadata, scope *domain.Scope) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(md.Order))
	for _, key := range md.Order {
		atom := md.Pairs[key]
		if atom.Kind == il.AtomVariableRef {
			v, ok := scope.Lookup(atom.Str)
			if !ok {
				return nil, coreerr.New("kernel.eval", "UnknownVariable", fmt.Errorf("%w: %s", coreerr.ErrUnknownVariable, domain.ErrUnknownVariableMessage(atom.Str)))
			}
			resolved, err := resolvePath(atom.Str, v, atom.Path)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
			continue
		}
		out[key] = atomLiteral(atom)
	}
	return out, nil
}

func atomLiteral(a *il.Atom) interface{} {
	switch a.Kind {
	case il.AtomString, il.AtomIdentifier:
		return a.Str
	case il.AtomNumber:
		return a.Num
	case il.AtomBool:
		return a.Bool
	default:
		return a.Str
	}
}

func (e *evaluator) evalForm(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	switch f.Operator {
	case il.OpQuery:
		return e.evalQuery(ctx, f, scope)
	case il.OpExecute:
		return e.evalExecute(ctx, f, scope, false, domain.ResourceLimits{})
	case il.OpSandboxedExecute:
		return e.evalSandboxedExecute(ctx, f, scope)
	case il.OpPlan:
		return e.evalPlan(ctx, f, scope)
	case il.OpCommunicate:
		return e.evalCommunicate(ctx, f, scope)
	case il.OpLet:
		return e.evalLet(ctx, f, scope)
	case il.OpTry:
		return e.evalTry(ctx, f, scope)
	case il.OpAwait:
		return e.evalAwait(ctx, f, scope)
	case il.OpClarify:
		return e.evalClarify(ctx, f, scope)
	case il.OpEvent:
		return e.evalEvent(f)
	default:
		return nil, coreerr.New("kernel.eval", "UnknownOperator", fmt.Errorf("%w: %s", coreerr.ErrUnknownOperator, f.Operator))
	}
}

// --- QUERY(intent, meta?) ---

func (e *evaluator) evalQuery(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) < 1 || len(f.Operands) > 2 {
		return nil, arityErr("QUERY", "1 or 2 operands (intent, meta?)", len(f.Operands))
	}
	intent, err := e.evalString(ctx, f.Operands[0], scope, "QUERY's intent")
	if err != nil {
		return nil, err
	}
	meta := map[string]interface{}{}
	if len(f.Operands) == 2 {
		md, ok := f.Operands[1].(*il.Metadata)
		if !ok {
			return nil, coreerr.Newf("kernel.eval", "ArgumentError", "QUERY's second operand must be metadata")
		}
		var err error
		meta, err = e.metadataToMap(md, scope)
		if err != nil {
			return nil, err
		}
	}

	hits, err := e.kernel.planner.Query(ctx, e.cog.agentID, intent, meta)
	if err != nil {
		return nil, suspendErr(ctx, err)
	}
	e.cog.addRead(len(hits))
	return hits, nil
}

// --- EXECUTE(tool, args…, meta?) / SANDBOXED-EXECUTE(tool, args…, limits) ---

func (e *evaluator) evalExecute(ctx context.Context, f *il.Form, scope *domain.Scope, sandboxed bool, limits domain.ResourceLimits) (interface{}, error) {
	if len(f.Operands) < 1 {
		return nil, arityErr(f.Operator, "at least 1 operand (tool)", len(f.Operands))
	}
	toolName, err := e.evalString(ctx, f.Operands[0], scope, fmt.Sprintf("%s's tool name", f.Operator))
	if err != nil {
		return nil, err
	}

	args := map[string]interface{}{}
	for _, operand := range f.Operands[1:] {
		md, ok := operand.(*il.Metadata)
		if !ok {
			return nil, coreerr.Newf("kernel.eval", "ArgumentError", "%s's arguments must be given as metadata ({key=value, ...})", f.Operator)
		}
		values, err := e.metadataToMap(md, scope)
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			args[k] = v
		}
	}

	desc, ok := e.kernel.tools.Lookup(toolName)
	if !ok {
		return nil, coreerr.New("kernel.eval", "UnknownTool", fmt.Errorf("%w: %s", coreerr.ErrUnknownTool, toolName))
	}
	if desc.RequiresSandbox && !sandboxed {
		return nil, coreerr.Newf("kernel.eval", "ArgumentError", "tool %q requires SANDBOXED-EXECUTE", toolName)
	}
	if err := validateArgs(desc, args, sandboxed); err != nil {
		return nil, err
	}

	result, err := e.kernel.tools.Invoke(ctx, domain.ToolContext{CognitionID: e.cog.id, AgentID: e.cog.agentID}, desc, args, sandboxed, limits)
	if err != nil {
		return nil, suspendErr(ctx, err)
	}
	return result, nil
}

func (e *evaluator) evalSandboxedExecute(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) < 1 {
		return nil, arityErr("SANDBOXED-EXECUTE", "at least 1 operand (tool)", len(f.Operands))
	}
	limits := domain.DefaultResourceLimits()
	operands := f.Operands
	if last, ok := operands[len(operands)-1].(*il.Metadata); ok && isLimitsMetadata(last) {
		limits = parseLimits(last, limits)
		operands = operands[:len(operands)-1]
	}
	return e.evalExecute(ctx, &il.Form{Operator: il.OpSandboxedExecute, Operands: operands}, scope, true, limits)
}

func isLimitsMetadata(md *il.Metadata) bool {
	for _, key := range md.Order {
		switch key {
		case "cpu_seconds", "memory_bytes", "wall_clock_seconds", "network_allowed":
			return true
		}
	}
	return false
}

func parseLimits(md *il.Metadata, base domain.ResourceLimits) domain.ResourceLimits {
	if v, ok := md.Get("cpu_seconds"); ok && v.Kind == il.AtomNumber {
		base.CPUSeconds = v.Num
	}
	if v, ok := md.Get("memory_bytes"); ok && v.Kind == il.AtomNumber {
		base.MemoryBytes = int64(v.Num)
	}
	if v, ok := md.Get("wall_clock_seconds"); ok && v.Kind == il.AtomNumber {
		base.WallClockSeconds = v.Num
	}
	if v, ok := md.Get("network_allowed"); ok && v.Kind == il.AtomBool {
		base.NetworkAllowed = v.Bool
	}
	return base
}

var shellMetacharacters = []string{";", "|", "&", "$(", "`", ">", "<"}

// validateArgs checks required fields are present and, for sandboxed
// invocations, scrubs string arguments for shell metacharacters unless the
// field's declared schema type is "raw-string" (spec §4.5 SANDBOXED-EXECUTE).
func validateArgs(desc domain.ToolDescriptor, args map[string]interface{}, sandboxed bool) error {
	for name, schema := range desc.InputSchema {
		v, present := args[name]
		if !present {
			if schema.Required {
				return coreerr.Newf("kernel.eval", "ArgumentError", "missing required argument %q for tool %q", name, desc.Name)
			}
			continue
		}
		if sandboxed && schema.Type != "raw-string" {
			if s, ok := v.(string); ok {
				for _, meta := range shellMetacharacters {
					if strings.Contains(s, meta) {
						return coreerr.New("kernel.eval", "SandboxViolation", fmt.Errorf("%w: argument %q contains a shell metacharacter", coreerr.ErrSandboxViolation, name))
					}
				}
			}
		}
	}
	return nil
}

// --- PLAN(e1, e2, ..., en) ---

func (e *evaluator) evalPlan(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) < 1 {
		return nil, arityErr("PLAN", "at least 1 operand", len(f.Operands))
	}
	var result interface{}
	for _, operand := range f.Operands {
		v, err := e.eval(ctx, operand, scope)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}

// --- COMMUNICATE(recipient, message) ---

func (e *evaluator) evalCommunicate(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) != 2 {
		return nil, arityErr("COMMUNICATE", "exactly 2 operands (recipient, message)", len(f.Operands))
	}
	recipient, err := e.evalString(ctx, f.Operands[0], scope, "COMMUNICATE's recipient")
	if err != nil {
		return nil, err
	}
	message, err := e.eval(ctx, f.Operands[1], scope)
	if err != nil {
		return nil, err
	}
	id, err := e.kernel.agents.Send(ctx, e.cog.agentID, recipient, message)
	if err != nil {
		return nil, suspendErr(ctx, err)
	}
	return id, nil
}

// --- LET(((v1 e1) (v2 e2) ...) body) ---

func (e *evaluator) evalLet(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) != 2 {
		return nil, arityErr("LET", "exactly 2 operands (bindings, body)", len(f.Operands))
	}
	bindings, ok := f.Operands[0].(*il.BindingList)
	if !ok {
		return nil, coreerr.Newf("kernel.eval", "ParseError", "LET's first operand must be a binding list")
	}

	// A fresh child scope, populated left-to-right so a later binding's
	// expression may reference an earlier one; popped implicitly when this
	// function returns, since nothing outside it ever sees childScope.
	childScope := domain.NewScope(scope)
	for _, b := range bindings.Bindings {
		if !domain.ValidVariableName(b.Name) {
			return nil, coreerr.Newf("kernel.eval", "ParseError", "invalid binding name %q", b.Name)
		}
		v, err := e.eval(ctx, b.Value, childScope)
		if err != nil {
			return nil, err
		}
		childScope.Bind(b.Name, v)
	}

	return e.eval(ctx, f.Operands[1], childScope)
}

// --- TRY(try-body, ON-FAIL, fail-body) ---

func (e *evaluator) evalTry(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) != 3 {
		return nil, arityErr("TRY", "exactly 3 operands (try-body, ON-FAIL, fail-body)", len(f.Operands))
	}
	result, err := e.eval(ctx, f.Operands[0], scope)
	if err == nil {
		return result, nil
	}
	if coreerr.IsFatal(err) {
		return nil, err
	}

	span := f.Operands[0].Span()
	errValue := map[string]interface{}{
		"kind":    coreerr.Kind(err),
		"message": err.Error(),
		"source-span": map[string]interface{}{
			"line":   span.Start.Line,
			"column": span.Start.Column,
		},
	}
	failScope := domain.NewScope(scope)
	failScope.Bind("error", errValue)
	return e.eval(ctx, f.Operands[2], failScope)
}

// --- AWAIT(event-expr, meta?) ---

func (e *evaluator) evalAwait(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) < 1 || len(f.Operands) > 2 {
		return nil, arityErr("AWAIT", "1 or 2 operands (event-expr, meta?)", len(f.Operands))
	}
	v, err := e.eval(ctx, f.Operands[0], scope)
	if err != nil {
		return nil, err
	}
	selector, ok := v.(domain.EventSelector)
	if !ok {
		return nil, coreerr.Newf("kernel.eval", "ArgumentError", "AWAIT's event-expr must evaluate to an event selector")
	}

	if len(f.Operands) == 2 {
		md, ok := f.Operands[1].(*il.Metadata)
		if !ok {
			return nil, coreerr.Newf("kernel.eval", "ArgumentError", "AWAIT's second operand must be metadata")
		}
		if v, ok := md.Get("timeout"); ok {
			d, err := parseTimeout(v)
			if err != nil {
				return nil, err
			}
			selector.Timeout = d
		}
	}

	awaitCtx := ctx
	if selector.Timeout > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, selector.Timeout)
		defer cancel()
	}

	event, err := e.kernel.bus.Await(awaitCtx, selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyCtxErr(ctx.Err())
		}
		if awaitCtx.Err() == context.DeadlineExceeded {
			return nil, coreerr.New("kernel.eval", "AwaitTimeout", coreerr.ErrAwaitTimeout)
		}
		return nil, err
	}
	return event.Payload, nil
}

// --- SANDBOXED-EXECUTE's limits already folded into evalSandboxedExecute ---

// --- CLARIFY(question, option*) ---

func (e *evaluator) evalClarify(ctx context.Context, f *il.Form, scope *domain.Scope) (interface{}, error) {
	if len(f.Operands) < 1 {
		return nil, arityErr("CLARIFY", "at least 1 operand (question)", len(f.Operands))
	}
	question, err := e.evalString(ctx, f.Operands[0], scope, "CLARIFY's question")
	if err != nil {
		return nil, err
	}
	options := make([]string, 0, len(f.Operands)-1)
	for _, operand := range f.Operands[1:] {
		opt, err := e.evalString(ctx, operand, scope, "CLARIFY's option")
		if err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return domain.ClarifyResponse{Kind: "clarify", Question: question, Options: options}, nil
}

// --- EVENT(metadata) ---

// evalEvent builds an event selector literal. "type", "source", and
// "timeout" are reserved metadata keys; every other key becomes a filter
// equality constraint (spec §4.8), since the metadata grammar has no way to
// express a nested filter map directly.
func (e *evaluator) evalEvent(f *il.Form) (interface{}, error) {
	if len(f.Operands) != 1 {
		return nil, arityErr("EVENT", "exactly 1 operand (metadata)", len(f.Operands))
	}
	md, ok := f.Operands[0].(*il.Metadata)
	if !ok {
		return nil, coreerr.Newf("kernel.eval", "ArgumentError", "EVENT's operand must be metadata")
	}

	selector := domain.EventSelector{Filter: map[string]interface{}{}}
	for _, key := range md.Order {
		atom := md.Pairs[key]
		switch key {
		case "type":
			selector.Type = atom.Str
		case "source":
			selector.Source = atom.Str
		case "timeout":
			if d, err := parseTimeout(atom); err == nil {
				selector.Timeout = d
			}
		default:
			selector.Filter[key] = atomLiteral(atom)
		}
	}
	return selector, nil
}

// parseTimeout accepts a "timeout" metadata value as either a bare number
// of seconds or a Go duration string (spec scenario S3 writes {timeout="2s"}).
func parseTimeout(atom *il.Atom) (time.Duration, error) {
	switch atom.Kind {
	case il.AtomNumber:
		return time.Duration(atom.Num * float64(time.Second)), nil
	case il.AtomString:
		d, err := time.ParseDuration(atom.Str)
		if err != nil {
			return 0, coreerr.Newf("kernel.eval", "ArgumentError", "invalid timeout duration %q: %v", atom.Str, err)
		}
		return d, nil
	default:
		return 0, coreerr.Newf("kernel.eval", "ArgumentError", "timeout must be a number or duration string")
	}
}

// resolvePath walks a dotted `$name.field.field...` chain (e.g. the
// `$error.kind`/`$error.source-span.line` forms ON-FAIL binds) against the
// map[string]interface{} values scope bindings actually produce. A bare
// `$name` reference (no Path) returns root unchanged.
func resolvePath(name string, root interface{}, path []string) (interface{}, error) {
	cur := root
	walked := name
	for _, field := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, coreerr.Newf("kernel.eval", "ArgumentError", "$%s has no field %q: %s is not a map", walked, field, walked)
		}
		v, ok := m[field]
		if !ok {
			return nil, coreerr.Newf("kernel.eval", "ArgumentError", "$%s has no field %q", walked, field)
		}
		cur = v
		walked = walked + "." + field
	}
	return cur, nil
}

func arityErr(operator, expected string, got int) error {
	return coreerr.New("kernel.eval", "ArityError", fmt.Errorf("%w: %s expects %s, got %d", coreerr.ErrArity, operator, expected, got))
}
