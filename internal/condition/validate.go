package condition

import (
	"errors"

	"tradeforge/internal/domain"
)

// Result is the structured outcome of validating a condition node.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Path  string `json:"path,omitempty"`
}

// ValidateConditionNode checks raw without building an evaluable tree.
func ValidateConditionNode(raw RawNode) Result {
	_, err := Parse(raw)
	return resultOf(err)
}

func resultOf(err error) Result {
	if err == nil {
		return Result{Valid: true}
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return Result{Error: ve.Error(), Path: ve.Field}
	}
	return Result{Error: err.Error()}
}
