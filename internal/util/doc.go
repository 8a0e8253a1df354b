// Package util holds the types shared by every stage of the admission core.
//
// # Error Kinds
//
// Each rejection maps to one Kind with a stable external Status:
//
//	status := util.StatusOf(err)
//	w.Header().Set("X-Gateway-Reason", status.Reason)
//	w.WriteHeader(status.HTTP)
//
// # HTTP Utilities
//
// Response writer wrapper for status code capture:
//
//	w := util.NewStatusCapturingResponseWriter(responseWriter)
//	handler.ServeHTTP(w, r)
//	statusCode := w.StatusCode
//
// # Validation
//
// Input validation helpers used by the configuration validator:
//
//	err := util.ValidateURL("https://example.com")
//	err := util.ValidateHeaderName("X-Client-ID")
package util
