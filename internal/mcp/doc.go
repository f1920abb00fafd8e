// Package mcp serves a koda workspace over the Model Context Protocol.
//
// The server exposes the agent's tool surface (read_file, write_file,
// list_directory, search_code, run_command, delete_file, find_symbol,
// get_file_outline) plus ledger_diff, ledger_apply and ledger_discard.
// Mutating tools stage changes in the workspace ledger; nothing reaches
// disk until ledger_apply is called. Tool output is scrubbed for secrets
// before it is returned to the client.
package mcp
