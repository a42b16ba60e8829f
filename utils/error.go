package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorVersionConflict signals that another approval committed a newer
// template version between our read and our write. Recoverable: the caller
// retries from the current-active read.
var ErrorVersionConflict = errors.New("template version conflict")

// ErrorNothingToRollBack signals that the current active version has no
// predecessor. Not recoverable by retrying.
var ErrorNothingToRollBack = errors.New("nothing to roll back to")
