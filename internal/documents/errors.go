package documents

import "errors"

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrAlreadyUploaded  = errors.New("document already in your library")
	ErrUploadLimit      = errors.New("document limit reached for your plan")
	ErrInvalidRequest   = errors.New("invalid document request")
	ErrDimension        = errors.New("embedding has the wrong number of dimensions")
	ErrInvalidSync      = errors.New("invalid vector sync transition")
)
