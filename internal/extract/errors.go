package extract

import "errors"

var (
	// ErrUnsupportedFormat indicates no extractor exists for the detected
	// format.
	ErrUnsupportedFormat = errors.New("unsupported attachment format")
	// ErrNoText indicates every extraction path produced an empty result.
	ErrNoText = errors.New("no text extracted")
	// ErrMalformedDocument indicates the bytes do not match the detected
	// container format.
	ErrMalformedDocument = errors.New("malformed document")
)
