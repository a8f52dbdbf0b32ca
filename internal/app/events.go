// Package app provides the presentation coordinator.
package app

// Event names for the shell.
const (
	EventNotice          = "notice"
	EventAnnounce        = "announce"
	EventPageChanged     = "page-changed"
	EventModalityChanged = "modality-changed"
	EventDrawMode        = "draw-mode"
	EventPointer         = "pointer"
	EventPageRendered    = "page-rendered"
	EventRenderError     = "render-error"
)

// Listener receives coordinator events. It is called on the event loop and
// must not block.
type Listener func(name string, data any)

// PageChanged is the payload of EventPageChanged.
type PageChanged struct {
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

// PageRendered is the payload of EventPageRendered.
type PageRendered struct {
	JobID     string  `json:"jobId"`
	Page      int     `json:"page"`
	Scale     float64 `json:"scale"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	ElapsedMS int64   `json:"elapsedMs"`
}

// RenderError is the payload of EventRenderError.
type RenderError struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
}
