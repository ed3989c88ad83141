// Package dto holds the request and response shapes of the HTTP API.
package dto

// PageRequest is limit/offset pagination from the query string.
type PageRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// Defaults applies the default page size.
func (p *PageRequest) Defaults() {
	if p.Limit == 0 {
		p.Limit = 50
	}
}

// ListResponse wraps list results.
type ListResponse struct {
	Items  any `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// IDResponse returns the id of a created resource.
type IDResponse struct {
	ID string `json:"id"`
}
