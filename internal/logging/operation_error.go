package logging

import "fmt"

// OperationError annotates an error with the operation that produced it and the face record involved.
type OperationError struct {
	Operation string
	FaceID    string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.FaceID != "" {
		return fmt.Sprintf("%s (face_id=%s): %v", e.Operation, e.FaceID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation and face id. A nil err stays nil.
func NewOperationError(operation, faceID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, FaceID: faceID, Err: err}
}
