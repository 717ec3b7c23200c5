// Package tracks manages tracked messages for the management API and the
// operator CLI: creating them, listing them with their open counts, and
// reporting aggregate stats.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package tracks
