package engine

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func UnknownTypeError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_TYPE",
		Status:  404,
		Message: fmt.Sprintf("Unknown resource type: %s", name),
	}
}

// UnknownResolverError is raised when a name not present in a type's
// resolver manager is selected, ordered by, filtered on or assigned.
func UnknownResolverError(typeName, name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_RESOLVER",
		Status:  400,
		Message: fmt.Sprintf("Unknown resolver %s.%s", typeName, name),
	}
}

// CardinalityError is raised eagerly on assignment of a scalar to a
// many-relationship attribute or a collection to a single one.
func CardinalityError(typeName, name, detail string) *AppError {
	return &AppError{
		Code:    "CARDINALITY_MISMATCH",
		Status:  400,
		Message: fmt.Sprintf("%s.%s: %s", typeName, name, detail),
	}
}

// AmbiguousJoinError is raised at bind time when a relationship's join
// chain cannot be resolved to exactly one target type and field.
func AmbiguousJoinError(typeName, name, detail string) *AppError {
	return &AppError{
		Code:    "AMBIGUOUS_JOIN",
		Status:  500,
		Message: fmt.Sprintf("%s.%s: %s", typeName, name, detail),
	}
}

func NotFoundError(typeName, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", typeName, id),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}
