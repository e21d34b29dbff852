// Package session drives one water-controller session: scan, connect,
// handshake, run, end.
//
// A Session owns its state, timers and duplicate cache from a single
// goroutine started by Run. Transport callbacks, timer expirations and API
// calls are posted to an inbox and handled one at a time, so nothing inside
// the package needs a lock beyond the State snapshot.
//
// # Handshake
//
//	-> start-prologue             FE FE 09 B0 01 01 00 00
//	<- B0 / B1                    previous session status (legacy firmware)
//	   ... 500ms quiet ...
//	-> start-epilogue             FE FE 09 B2 01 ... (no key auth)
//
//	<- AE                         key challenge (newer firmware)
//	-> unlock response            FE FE 09 AF ...
//	<- AF 55                      key accepted
//	-> start-epilogue             FE FE 09 B2 01 ... (key auth)
//
//	<- B2                         water on, session Ready
//
// Ending is End() -> end-prologue, B3 <- controller, end-epilogue -> and the
// link is released.
//
// Failures are classified by package fault. Timeouts, lost links and a
// missing controller are retried with backoff from package reconnect; a
// protocol rejection never is.
package session
