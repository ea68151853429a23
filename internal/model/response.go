package model

// ErrorResponse is the error envelope for every API surface. Callers treat
// any response body carrying a "detail" field as an error regardless of the
// status text.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
