package domain

import (
	"fmt"
	"net/http"
)

// Operation is a single write inside a group.
// A later operation's body may reference an earlier one's Name via ResultRef.
type Operation struct {
	Method string         `json:"method"`
	Path   string         `json:"relative_url"`
	Body   map[string]any `json:"body,omitempty"`
	Name   string         `json:"name,omitempty"`
}

// ResultRef returns the placeholder resolving to the id produced by the named operation.
// It is only valid inside the group that contains the named operation.
func ResultRef(name string) string {
	return fmt.Sprintf("{result=%s:$.id}", name)
}

// RawResult is the platform's answer for one operation slot of a group.
// A nil *RawResult means the platform returned nothing for that slot.
type RawResult struct {
	Code    int               `json:"code"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// OK reports whether the status code is 2xx.
func (r *RawResult) OK() bool {
	return r != nil && r.Code >= http.StatusOK && r.Code < http.StatusMultipleChoices
}

// Node is a remote object returned by list reads.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}
