// Package chatbot implements a Discord points-and-moderation bot
// backed by a relational store (SQLite or Postgres).
//
// The bot tracks per-user point balances, per-guild configuration and
// operational metadata, and exposes them through prefixed text
// commands. All persistence goes through a single storage engine
// (Store), which executes blocking database calls on a bounded worker
// pool, serializes operations per aggregate key, and retries
// transient "database is locked" failures with backoff.
//
// Key components of the package include:
//
//   - Bot: The main struct that wires configuration, the database,
//     the storage engine, the maintenance loop, and the Discord
//     session together.
//   - Store: The storage engine; the only component that touches the
//     database at runtime.
//   - Discord: Handles the gateway connection and dispatches text
//     commands to their handlers.
//   - CreateDB: Creates the database (if needed) and applies schema
//     migrations; safe to re-run.
//
// The bot supports commands for checking and awarding points
// (balance, daily, leaderboard), guild configuration (setprefix,
// setwelcome, setmodrole, setadminrole), moderation (kick, ban,
// unban), utility (ping, uptime, serverinfo, lastsave), and fun
// (roll, 8ball, hello, poll).
//
// A background maintenance loop periodically records a heartbeat
// timestamp in the metadata table, surfaced by the lastsave command.
package chatbot
