package investigation

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrCancelled is returned when the caller cancelled the investigation. Nothing is
	// persisted and no report is written.
	ErrCancelled = goerr.New("investigation cancelled")

	// ErrReauthenticationRequired is returned when the tool gateway rejected the
	// credential and a refresh did not help
	ErrReauthenticationRequired = goerr.New("re-authentication required: the tool gateway rejected the access token; obtain a new token and retry")
)
