package expr

import "fmt"

// SyntaxError reports a malformed expression. Pos is a byte offset into Expr.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

// UnknownReferenceError reports a placeholder the evaluation environment cannot
// resolve, such as an unrecognized currency code.
type UnknownReferenceError struct {
	Expr string
	Ref  string
}

func (e *UnknownReferenceError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("unknown reference %s", e.Ref)
	}
	return fmt.Sprintf("unknown reference %s in %q", e.Ref, e.Expr)
}

// EvaluationError reports a runtime failure: division by zero, a type mismatch,
// a bad regular expression or a failed lookup.
type EvaluationError struct {
	Expr string
	Msg  string
	Err  error
}

func (e *EvaluationError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Expr == "" {
		return "evaluation error: " + msg
	}
	return fmt.Sprintf("evaluation error in %q: %s", e.Expr, msg)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func evalErrorf(format string, args ...any) *EvaluationError {
	return &EvaluationError{Msg: fmt.Sprintf(format, args...)}
}
