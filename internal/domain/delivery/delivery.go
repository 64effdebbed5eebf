// Package delivery tracks outbound notifications so a retried task does not
// send the same message twice.
package delivery

import "errors"

var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification send in progress")
)

const KindApplicationNotice = "application.notice"
