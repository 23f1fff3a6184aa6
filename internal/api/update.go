package api

import (
	"context"
	"log/slog"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
)

// UpdateLoop stores the leaves of every decide event and commits them. A
// failed insert or commit is logged and the loop keeps going; leaves that
// did not commit stay pending in the data source and go out with the next
// commit. The loop returns nil when events is closed or ctx is done.
func UpdateLoop(
	ctx context.Context,
	st Updater,
	events <-chan consensus.Event,
	log *slog.Logger,
) error { // A
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				log.Warn("consensus event stream closed")
				return nil
			}
			handleEvent(ctx, st, ev, log)
		}
	}
}

func handleEvent(ctx context.Context, st Updater, ev consensus.Event, log *slog.Logger) { // A
	switch ev.Kind {
	case consensus.EventDecide:
	case consensus.EventError:
		log.Warn("consensus reported an error", "view", ev.View, "error", ev.Err)
		return
	default:
		return
	}

	err := st.WriteQuery(ctx, func(ds datasource.UpdateDataSource) error {
		for _, leaf := range ev.Leaves {
			if err := ds.InsertLeaf(ctx, leaf); err != nil {
				return err
			}
		}
		return ds.Commit(ctx)
	})
	if err != nil {
		log.Error("failed to store decided leaves",
			"view", ev.View,
			"leaves", len(ev.Leaves),
			"error", err,
		)
		return
	}

	log.Debug("stored decided leaves", "view", ev.View, "leaves", len(ev.Leaves))
}
