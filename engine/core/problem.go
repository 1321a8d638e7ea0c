package core

import (
	"maps"
	"net/http"
)

// Problem is the error document returned by the API.
type Problem struct {
	Status int
	Title  string
	Detail string
	// Code is a stable machine-readable identifier such as NOT_FOUND.
	Code string
	// TaskID links the failure to a task when one exists.
	TaskID ID
	Extras map[string]any
}

// Normalized returns a copy with status and title filled in.
func (p *Problem) Normalized() *Problem {
	out := Problem{}
	if p != nil {
		out = *p
	}
	if out.Status < http.StatusBadRequest {
		out.Status = http.StatusInternalServerError
	}
	if out.Title == "" {
		out.Title = http.StatusText(out.Status)
	}
	if out.Code == "" {
		out.Code = defaultCode(out.Status)
	}
	return &out
}

// Body renders the JSON document. Extras never shadow the fixed fields.
func (p *Problem) Body() map[string]any {
	body := CopyMap(p.Extras)
	if body == nil {
		body = make(map[string]any, 5)
	}
	maps.Copy(body, map[string]any{
		"status": p.Status,
		"error":  p.Title,
		"code":   p.Code,
	})
	if p.Detail != "" {
		body["details"] = p.Detail
	} else {
		delete(body, "details")
	}
	if !p.TaskID.IsZero() {
		body["taskId"] = p.TaskID.String()
	} else {
		delete(body, "taskId")
	}
	return body
}

func defaultCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
