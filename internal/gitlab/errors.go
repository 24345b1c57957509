package gitlab

import "fmt"

// APIError is returned for any 4xx/5xx response from the GitLab API. It
// carries the status and body so callers can report the failure without
// re-reading the response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitlab API error: status=%d body=%s", e.Status, e.Body)
}
