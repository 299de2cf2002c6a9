package coordinator

import (
	"sync/atomic"

	"github.com/gabriel2392/brokkr/odin"
	"github.com/gabriel2392/brokkr/pit"
)

// Target is one device's session state, owned exclusively by its worker
// goroutine after the coordinator constructs it.
type Target struct {
	Label string
	Cmds  *odin.Commands
	Pit   pit.Table

	dead atomic.Bool
}

func (t *Target) MarkDead() { t.dead.Store(true) }
func (t *Target) IsDead() bool { return t.dead.Load() }
