// Package binder fills request structs from an HTTP request.
//
// Each binder reads one source and its own struct tag:
//
//	type listRequest struct {
//		UserID uuid.UUID `path:"id"`
//		Limit  int       `query:"limit"`
//		Cursor string    `query:"cursor"`
//	}
//
//	var req listRequest
//	err := errors.Join(
//		binder.Path(chi.URLParam)(r, &req),
//		binder.Query()(r, &req),
//	)
//
// Field types may be strings, integers, floats, booleans, pointers and
// slices of those, or anything implementing encoding.TextUnmarshaler
// (uuid.UUID, time.Time, decimal.Decimal).
package binder
