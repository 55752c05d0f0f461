// Package interceptors implements the ordered request pipeline wrapped
// around every outbound call.
//
// Pre-hooks run in registration order. The inbound phase walks the
// interceptors in reverse order, calling OnResponse while the call is
// succeeding and OnResponseError once it has failed. A pre-hook rejection
// stops the remaining pre-hooks but the inbound phase still runs over every
// interceptor, so logging and metrics observe each failure. A hook that
// replays the request through Call.Replay settles the outer pass with the
// replay outcome.
package interceptors
