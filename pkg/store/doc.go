// Package store is the persistence gateway: a single SQLite database
// accessed through sqlx, with checksummed sequential migrations applied at
// startup. Writers go through prepared statements; readers use ad-hoc
// queries. Driver errors are mapped into the errdefs taxonomy at this
// boundary so no other package imports the driver.
package store
