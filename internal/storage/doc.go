// Package storage journals announcement deliveries.
//
// Each reminder the bot tries to send is appended as one Delivery record
// (success or failure), so operators can audit what went out and when.
// Schedules themselves are never stored here; they live in flat server files.
package storage
