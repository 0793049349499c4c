package httpapi

import "net/http"

// binderFunc fills a request value from one part of the HTTP request.
type binderFunc func(r *http.Request, v any) error

// result is a successful handler outcome.
type result struct {
	status int
	data   any
	meta   map[string]any
}

func ok(data any) result { return result{status: http.StatusOK, data: data} }

// wrap binds Req with every binder in order, runs fn and renders the
// envelope. Errors of either step go through classify.
func wrap[Req any](s *server, fn func(r *http.Request, req Req) (result, error), binders ...binderFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		for _, bind := range binders {
			if err := bind(r, &req); err != nil {
				writeError(w, r, s.log, err)
				return
			}
		}
		res, err := fn(r, req)
		if err != nil {
			writeError(w, r, s.log, err)
			return
		}
		if res.status == http.StatusNoContent {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var opts []responseOption
		if len(res.meta) > 0 {
			opts = append(opts, withMeta(res.meta))
		}
		writeData(w, res.status, res.data, opts...)
	}
}
