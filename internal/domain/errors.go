// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates invalid input; wrap with fmt.Errorf("%w: ...") for detail.
var ErrValidation = errors.New("validation")

// ErrRunInProgress indicates an agent run currently holds the working tree.
var ErrRunInProgress = errors.New("a run is already in progress")
