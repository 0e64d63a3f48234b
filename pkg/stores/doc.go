// Package stores persists the history of synthesis passes in SQLite: one row
// per pass, the mutations its visitors applied and the outcome of every
// context lookup it resolved.
package stores
