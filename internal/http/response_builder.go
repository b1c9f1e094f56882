// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing HTMX responses.
// It provides a fluent API for building HX-Trigger headers and consistent
// response formatting.

package http

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// HTMXResponseBuilder provides a fluent API for building HTMX responses.
type HTMXResponseBuilder struct {
	triggers   map[string]any
	statusCode int
	body       []byte
	headers    map[string]string
}

// NewHTMXResponse creates a new response builder with default 200 status.
func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		triggers:   make(map[string]any),
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.statusCode = code
	return b
}

// Trigger adds a named event with optional data to the HX-Trigger header.
func (b *HTMXResponseBuilder) Trigger(name string, data any) *HTMXResponseBuilder {
	b.triggers[name] = data
	return b
}

// TriggerPageRefresh asks the client to reload the current page.
func (b *HTMXResponseBuilder) TriggerPageRefresh() *HTMXResponseBuilder {
	return b.Trigger("page:refresh", struct{}{})
}

func (b *HTMXResponseBuilder) TriggerFormReset() *HTMXResponseBuilder {
	return b.Trigger("form:reset", struct{}{})
}

// NotificationType represents the type of notification to display.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
)

// TriggerNotification adds a show-notification trigger. Blocking
// notifications are shown as a modal alert by the client script.
func (b *HTMXResponseBuilder) TriggerNotification(notifType NotificationType, message string, durationMs int, blocking bool) *HTMXResponseBuilder {
	return b.Trigger("show-notification", map[string]any{
		"type":     string(notifType),
		"message":  message,
		"duration": durationMs,
		"blocking": blocking,
	})
}

func (b *HTMXResponseBuilder) TriggerSuccessNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationSuccess, message, 3000, false)
}

func (b *HTMXResponseBuilder) TriggerErrorNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationError, message, 5000, false)
}

// TriggerBlockingError shows message as an alert the user must dismiss.
func (b *HTMXResponseBuilder) TriggerBlockingError(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationError, message, 0, true)
}

// Redirect sends an HX-Redirect so htmx performs a full navigation.
func (b *HTMXResponseBuilder) Redirect(to string) *HTMXResponseBuilder {
	return b.Header("HX-Redirect", to)
}

func (b *HTMXResponseBuilder) Header(name, value string) *HTMXResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *HTMXResponseBuilder) BodyString(content string) *HTMXResponseBuilder {
	b.body = []byte(content)
	return b
}

// BodyHTML sets the response body as HTML content.
func (b *HTMXResponseBuilder) BodyHTML(html string) *HTMXResponseBuilder {
	b.headers["Content-Type"] = "text/html; charset=utf-8"
	b.body = []byte(html)
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if len(b.triggers) > 0 {
		triggerJSON, err := json.Marshal(b.triggers)
		if err == nil {
			w.Header().Set("HX-Trigger", string(triggerJSON))
		}
	}

	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse creates an HTML error fragment that also raises an error
// notification. The message is HTML-escaped.
func ErrorResponse(statusCode int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(statusCode).
		TriggerErrorNotification(message).
		BodyHTML(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`)
}

func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnprocessableEntityError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

func NotFoundError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// BadGatewayError reports a failed call to the remote API.
func BadGatewayError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadGateway, message)
}

func TooManyRequestsError() *HTMXResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").
		Header("Retry-After", "60")
}
