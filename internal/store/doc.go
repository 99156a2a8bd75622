// Package store persists jobs and transcript segments to SQLite so completed
// work survives process restarts and remains queryable through the API.
package store
