package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-collab/core"
)

// failure builds the go-errors value returned for transport level faults.
// The status code and text code follow from category; fields are appended
// to the metadata as key/value pairs next to the transport name.
func failure(cause error, category goerrors.Category, message string, fields ...any) error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}

	status, text := http.StatusInternalServerError, core.ErrorInternal
	switch category {
	case goerrors.CategoryBadInput:
		status, text = http.StatusBadRequest, core.ErrorBadInput
	case goerrors.CategoryExternal:
		status, text = http.StatusBadGateway, core.ErrorHTTP
	}

	metadata := map[string]any{transportMetadataKey: transportName}
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			metadata[key] = fields[i+1]
		}
	}
	return err.WithCode(status).WithTextCode(text).WithMetadata(metadata)
}
