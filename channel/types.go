package channel

// A Spawner launches a detached background task. Implementations must not
// block: the launched function runs independently of the caller, and any
// panic or error it produces is the transport's responsibility to log; it
// must not propagate back to the caller of Spawn (spec.md §4.D).
type Spawner interface {
	Spawn(func())
}

// GoSpawner is a Spawner backed directly by the Go runtime scheduler. It is
// the reference implementation, and the one a duplexrpc Client uses when its
// options name no Spawner; a production transport may instead spawn onto a
// worker pool or an errgroup.Group.
type GoSpawner struct{}

// Spawn launches fn in a new goroutine.
func (GoSpawner) Spawn(fn func()) { go fn() }
