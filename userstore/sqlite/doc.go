// Package sqlite implements authcore.UserProvider on SQLite (modernc.org/sqlite,
// no cgo). The schema ships as embedded golang-migrate migrations applied by
// [Open].
package sqlite
