package handler

import (
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// NewHTTPHandler serves h over net/http by translating each request into an
// API Gateway proxy event, so local runs exercise the Lambda code path.
func NewHTTPHandler(h *Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		headers := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
		query := make(map[string]string, len(r.URL.Query()))
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}

		resp, err := h.Handle(r.Context(), events.APIGatewayProxyRequest{
			HTTPMethod:            r.Method,
			Path:                  r.URL.Path,
			Headers:               headers,
			MultiValueHeaders:     r.Header,
			QueryStringParameters: query,
			Body:                  string(body),
		})
		if err != nil {
			http.Error(w, msgGeneric, http.StatusInternalServerError)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)
	})
}
