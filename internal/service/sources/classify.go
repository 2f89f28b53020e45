package sources

import (
	"errors"
	"net/http"

	"FinPulse/internal/domain/models"
	xhttp "FinPulse/pkg/http"
)

// Classify maps a transport error from an upstream call to NotFound or
// Unavailable. Errors that are already classified pass through. Only an
// HTTP 404 is NotFound; timeouts, 429, 5xx, auth failures and undecodable
// bodies are all Unavailable.
func Classify(source, symbol string, err error) error {
	if err == nil {
		return nil
	}
	if models.IsNotFound(err) || models.IsUnavailable(err) {
		return err
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return models.NotFound(source, symbol, err)
	}
	return models.Unavailable(source, symbol, err)
}
