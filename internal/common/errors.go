// Package common holds sentinel errors shared by repositories, services,
// and the HTTP layer.
package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// service specific errors
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// user-specific errors
	ErrorEmailExists   = errors.New("email already exists")
	ErrorInvalidToken  = errors.New("invalid token")
	ErrorWrongPassword = errors.New("wrong password")

	// mailbox-specific errors
	ErrorRecipientNotFound = errors.New("recipient not found")
	ErrorNoValidRecipients = errors.New("no valid recipients")
	ErrorPermissionDenied  = errors.New("permission denied")
	ErrorNotInTrash        = errors.New("message must be in trash")
	ErrorSubjectTooLong    = errors.New("subject too long")
	ErrorNotADraft         = errors.New("message is not a draft")
)
