package http

import "time"

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Status  int    `json:"status" example:"200"`
	Message string `json:"message" example:"OK"`
	Data    any    `json:"data,omitempty"`
}

// ValidationError is one rejected request field.
type ValidationError struct {
	Code    string         `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string         `json:"field,omitempty" example:"strike"`
	Message string         `json:"message,omitempty" example:"strike is required"`
	Params  map[string]any `json:"params,omitempty"`
}

// ListDataResponse wraps list endpoints.
type ListDataResponse struct {
	Rows  any `json:"rows"`
	Total int `json:"total"`
}

// TimeRange is a [From, To) filter parsed from query params.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
