// Package httputil holds the JSON request and response helpers shared by the
// management API handlers.
package httputil
