package indexer

import (
	"github.com/quantrail/fixcore/internal/ordlog"
	"github.com/quantrail/fixcore/internal/replayindex"
)

// ReplayIndexAdapter wraps a *replayindex.Manager so it satisfies Index,
// translating replayindex's richer IndexedPosition (which also carries
// the session id, not needed by the Indexer's catch-up) down to this
// package's Position.
type ReplayIndexAdapter struct {
	Manager *replayindex.Manager
}

// OnFragment delegates to the wrapped Manager.
func (a ReplayIndexAdapter) OnFragment(streamID int32, frag ordlog.Fragment) error {
	return a.Manager.OnFragment(streamID, frag)
}

// IndexedPositions delegates to the wrapped Manager, dropping the
// session id each entry also carries.
func (a ReplayIndexAdapter) IndexedPositions() ([]Position, error) {
	entries, err := a.Manager.IndexedPositions()
	if err != nil {
		return nil, err
	}

	out := make([]Position, len(entries))
	for i, e := range entries {
		out[i] = Position{RecordingID: e.RecordingID, Position: e.Position}
	}

	return out, nil
}
