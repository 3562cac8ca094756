package repo

import (
	"context"
	"time"
)

//go:generate mockgen -source=interfaces.go -package=mock -destination=./mock/mock_repo.go

type HistoryReader interface {
	LastRestart(ctx context.Context, vmName string) (time.Time, bool, error)
}

type HistoryWriter interface {
	MarkRestarted(ctx context.Context, vmName string, at time.Time) error
}

// History records the last restart instant per VM. Cardinality is the fleet
// size; entries are updated in place and never pruned.
type History interface {
	HistoryReader
	HistoryWriter
}
