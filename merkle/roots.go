package merkle

import "github.com/ethereum/go-ethereum/common"

// DefaultRootWindow is how many recent roots remain valid anchors.
const DefaultRootWindow = 100

// RootWindow is a bounded FIFO of commitment tree roots. Pushing onto a full
// window evicts the oldest root.
type RootWindow struct {
	capacity int
	roots    []common.Hash
}

// NewRootWindow creates a window holding at most capacity roots. A
// non-positive capacity falls back to DefaultRootWindow.
func NewRootWindow(capacity int) *RootWindow {
	if capacity <= 0 {
		capacity = DefaultRootWindow
	}
	return &RootWindow{
		capacity: capacity,
		roots:    make([]common.Hash, 0, capacity),
	}
}

// Push appends root and returns the evicted root, if any.
func (w *RootWindow) Push(root common.Hash) (evicted common.Hash, ok bool) {
	if len(w.roots) == w.capacity {
		evicted, ok = w.roots[0], true
		copy(w.roots, w.roots[1:])
		w.roots = w.roots[:len(w.roots)-1]
	}
	w.roots = append(w.roots, root)
	return evicted, ok
}

// Contains reports whether root is one of the retained roots.
func (w *RootWindow) Contains(root common.Hash) bool {
	for _, r := range w.roots {
		if r == root {
			return true
		}
	}
	return false
}

// Latest returns the most recently pushed root.
func (w *RootWindow) Latest() (common.Hash, bool) {
	if len(w.roots) == 0 {
		return common.Hash{}, false
	}
	return w.roots[len(w.roots)-1], true
}

// Roots returns the retained roots, oldest first.
func (w *RootWindow) Roots() []common.Hash {
	out := make([]common.Hash, len(w.roots))
	copy(out, w.roots)
	return out
}

func (w *RootWindow) Len() int      { return len(w.roots) }
func (w *RootWindow) Capacity() int { return w.capacity }

// Copy returns an independent copy of w.
func (w *RootWindow) Copy() *RootWindow {
	cp := &RootWindow{capacity: w.capacity, roots: make([]common.Hash, len(w.roots), w.capacity)}
	copy(cp.roots, w.roots)
	return cp
}
