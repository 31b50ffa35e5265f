package engine

import (
	"context"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"go.uber.org/zap"
)

// undoStep puts the reservation store back to how it was before one mutation.
type undoStep struct {
	key     domain.HoldKey
	restore *domain.Reservation // nil: the hold did not exist
}

type undoLog struct {
	steps []undoStep
}

func (u *undoLog) upserted(key domain.HoldKey, prev *domain.Reservation) {
	u.steps = append(u.steps, undoStep{key: key, restore: prev})
}

func (u *undoLog) removed(r domain.Reservation) {
	u.steps = append(u.steps, undoStep{key: r.Key(), restore: &r})
}

// rollback replays the undo log in reverse. It runs even when ctx is already
// cancelled, otherwise a timed-out request would leave a partial batch.
func (e *Engine) rollback(ctx context.Context, u *undoLog) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		var err error
		if step.restore == nil {
			_, err = e.store.Remove(ctx, step.key)
		} else {
			_, err = e.store.Upsert(ctx, *step.restore)
		}
		if err != nil {
			e.log.Error("rollback step failed",
				zap.String("variant", step.key.VariantKey.String()),
				zap.String("user_id", step.key.UserID),
				zap.Error(err))
		}
	}
	u.steps = nil
}
