// Package httputil provides the JSON response, request parsing and middleware helpers shared
// by every accessgate handler set.
//
// Errors are always written as {"error": "..."}:
//
//	httputil.WriteConflict(w, err.Error())
//	httputil.WriteNotFound(w, "not found")
//
// Path parameters come from gorilla/mux:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
package httputil
