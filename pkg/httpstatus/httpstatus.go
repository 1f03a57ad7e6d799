// Package httpstatus is the table of HTTP status codes the API documents,
// grouped by class, with a short description of each.
package httpstatus

import (
	"net/http"
	"sort"
)

// Class is the first digit family of a status code.
type Class string

const (
	ClassSuccess     Class = "success"
	ClassRedirection Class = "redirection"
	ClassClientError Class = "client_error"
	ClassServerError Class = "server_error"
)

// Status describes one documented status code.
type Status struct {
	Code        int    `json:"code"`
	Reason      string `json:"reason"`
	Class       Class  `json:"class"`
	Description string `json:"description"`
}

var table = map[int]Status{}

func init() {
	for _, s := range []Status{
		{Code: http.StatusOK, Description: "request succeeded"},
		{Code: http.StatusCreated, Description: "a new resource was created"},
		{Code: http.StatusMovedPermanently, Description: "the resource moved to a new URL for good"},
		{Code: http.StatusFound, Description: "the resource is temporarily at another URL"},
		{Code: http.StatusBadRequest, Description: "malformed syntax or missing data"},
		{Code: http.StatusUnauthorized, Description: "credentials or token missing"},
		{Code: http.StatusForbidden, Description: "credentials present but access is denied"},
		{Code: http.StatusNotFound, Description: "no resource at this URL"},
		{Code: http.StatusUnprocessableEntity, Description: "well-formed input that cannot be processed"},
		{Code: http.StatusRequestEntityTooLarge, Description: "upload exceeds the configured limit"},
		{Code: http.StatusInternalServerError, Description: "the server failed to handle the request"},
		{Code: http.StatusBadGateway, Description: "an upstream server answered badly"},
		{Code: http.StatusServiceUnavailable, Description: "the server is busy or down"},
	} {
		s.Reason = http.StatusText(s.Code)
		s.Class = ClassOf(s.Code)
		table[s.Code] = s
	}
}

// ClassOf returns the class of code, or "" outside 200-599.
func ClassOf(code int) Class {
	switch code / 100 {
	case 2:
		return ClassSuccess
	case 3:
		return ClassRedirection
	case 4:
		return ClassClientError
	case 5:
		return ClassServerError
	default:
		return ""
	}
}

// Lookup returns the documented status for code.
func Lookup(code int) (Status, bool) {
	s, ok := table[code]
	return s, ok
}

// Describe returns the description of code, falling back to the standard
// reason phrase for undocumented codes.
func Describe(code int) string {
	if s, ok := table[code]; ok {
		return s.Description
	}
	return http.StatusText(code)
}

// All returns every documented status ordered by code.
func All() []Status {
	out := make([]Status, 0, len(table))
	for _, s := range table {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
