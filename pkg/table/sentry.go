package table

import "github.com/getsentry/sentry-go"

// reportPoisoning forwards a table-poisoning error to Sentry. Calling
// sentry.CaptureException without sentry.Init ever having run is a
// documented no-op, so this stays safe for callers who never configure
// a DSN; callers who do get a crash report the moment a table stops
// accepting writes.
func reportPoisoning(err error) {
	sentry.CaptureException(err)
}
