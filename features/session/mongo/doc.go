// Package mongo provides a MongoDB-backed session.Store. Build the low-level
// client via features/session/mongo/clients/mongo and pass it to NewStore.
// Paused conversations keep their pending tool call in the same document so
// resuming claims it with one conditional update.
package mongo
