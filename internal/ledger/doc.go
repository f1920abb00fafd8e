// Package ledger buffers file mutations for a single task run until they are
// approved.
//
// A Ledger maps root-relative paths to pending changes. Staging never touches
// the filesystem: the only disk mutation happens inside ApplyAll, which writes
// every staged entry in insertion order and clears the ledger once all of them
// succeed. DiscardAll drops the whole batch. There is no partial commit.
//
// # Usage Example
//
//	l := ledger.New("/path/to/repo")
//	msg, err := l.StageWrite("hello.txt", "hi\n")
//	fmt.Println(msg) // [STAGED] Will create 'hello.txt' (not yet applied)
//	fmt.Println(l.Diff())
//	out, err := l.ApplyAll()
//
// Reads made through ReadFile see staged content first, so later steps of a
// run observe their own not-yet-applied writes.
package ledger
