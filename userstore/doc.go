// Package userstore implements [authsession.UserLookup] over PostgreSQL and
// in memory.
//
// The Postgres repository runs on database/sql with the pgx stdlib driver.
// Schema changes ship as embedded goose migrations applied by [Migrate].
// Lookups are read-only and uncached; a missing row is reported as
// [authsession.ErrUserNotFound].
package userstore
