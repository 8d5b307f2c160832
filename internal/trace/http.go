package trace

import "net/http"

// Middleware attaches a trace context to each request, continuing the
// caller's trace when the headers carry one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDKey),
			ParentSpanID: r.Header.Get(SpanIDKey),
			SpanID:       randomHex(8),
		}
		if tc.TraceID == "" {
			tc.TraceID = randomHex(16)
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
