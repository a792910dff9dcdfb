package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrScopeOracleUnavailable = errors.New("scope oracle unavailable")
	ErrAnalysisParse          = errors.New("analysis response could not be parsed")
	ErrToolExecution          = errors.New("tool execution failed")
	ErrToolTimeout            = errors.New("tool call timed out")
	ErrToolUnavailable        = errors.New("tool is not available")
	ErrCommitmentViolation    = errors.New("commitment tool reached execution without confirmation")
	ErrTurnAbandoned          = errors.New("turn abandoned by client")
)
