package handler

import (
	"net/http"

	"github.com/noah-isme/sma-adp-console/internal/form"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

// loadingAny reports whether any refresh is still outstanding.
func loadingAny(loading map[form.Target]bool) bool {
	for _, pending := range loading {
		if pending {
			return true
		}
	}
	return false
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}
