package stitchgraph

import "fmt"

// ValidationErrorKind discriminates the compiler's accumulated error list,
// per spec.md's error taxonomy (Cycle, EdgeEndpoint, MissingRequiredInput,
// UnknownWorkerType).
type ValidationErrorKind string

const (
	ErrCycle                ValidationErrorKind = "Cycle"
	ErrEdgeEndpoint          ValidationErrorKind = "EdgeEndpoint"
	ErrMissingRequiredInput  ValidationErrorKind = "MissingRequiredInput"
	ErrUnknownWorkerType     ValidationErrorKind = "UnknownWorkerType"
)

// ValidationError is one compile-time finding. The compiler accumulates all
// of these before returning; it never throws on malformed author input.
type ValidationError struct {
	Kind  ValidationErrorKind
	Node  string   // node the error concerns, if any
	Nodes []string // all nodes on a cycle, for ErrCycle
	Input string   // input name, for ErrMissingRequiredInput
	Edge  string   // edge id, for ErrEdgeEndpoint
	Detail string
}

func (e ValidationError) Error() string {
	switch e.Kind {
	case ErrCycle:
		return fmt.Sprintf("Cycle{nodes:%v}", e.Nodes)
	case ErrEdgeEndpoint:
		return fmt.Sprintf("EdgeEndpoint{edge:%s, detail:%s}", e.Edge, e.Detail)
	case ErrMissingRequiredInput:
		return fmt.Sprintf("MissingRequiredInput{node:%s, input:%s}", e.Node, e.Input)
	case ErrUnknownWorkerType:
		return fmt.Sprintf("UnknownWorkerType{node:%s, detail:%s}", e.Node, e.Detail)
	default:
		return fmt.Sprintf("ValidationError{kind:%s, detail:%s}", e.Kind, e.Detail)
	}
}
