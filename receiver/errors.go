package receiver

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeSignatureInvalid = "HOOKS_SIGNATURE_INVALID"
	TextCodeSignatureStale   = "HOOKS_SIGNATURE_STALE"
	TextCodeMissingHeader    = "HOOKS_SIGNATURE_HEADER_MISSING"
)

func receiverError(source error, message string, textCode string, metadata map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryAuth)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryAuth, message)
	}
	err = err.WithCode(http.StatusUnauthorized).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
