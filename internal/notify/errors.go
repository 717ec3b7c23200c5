package notify

import "errors"

// ErrNotConfigured is returned by every notify call when no transport is
// configured. Inline latches still commit; the follow-up latch stays unset.
var ErrNotConfigured = errors.New("email notifications not configured")
