// Package refresher keeps tracked cache queries fresh.
//
// The Refresher:
//   - Refetches a tracked query as soon as an entry under its key is invalidated
//   - Refetches every tracked query on a fixed interval as a backstop
//   - Bounds concurrent refetches with a semaphore
package refresher
