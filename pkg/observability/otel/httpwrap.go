//go:build !otelotlp

// Package otelobs gates OpenTelemetry behind the otelotlp build tag so the
// default build carries no tracing overhead.
package otelobs

import (
	"context"
	"net/http"
)

// InitTracer is a no-op by default. Build with -tags otelotlp to enable
// OTLP trace export.
func InitTracer(serviceName string) func(context.Context) error {
	return func(context.Context) error { return nil }
}

// WrapHTTPHandler is a no-op by default. Build with -tags otelotlp to
// enable tracing.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler { return h }

// WrapHTTPTransport is a no-op by default. Build with -tags otelotlp to
// enable trace propagation.
func WrapHTTPTransport(t http.RoundTripper) http.RoundTripper { return t }
