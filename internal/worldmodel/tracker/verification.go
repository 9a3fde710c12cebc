package tracker

import (
	"context"

	"github.com/google/uuid"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/verify"
)

// verify asks every verification service about the object, without holding
// the model lock, then applies the combined effect under a second short
// lock. All services are asked even after a DISCARD. Effects are skipped if
// the model was reset meanwhile or the object has become fixed.
func (t *Tracker) verify(ctx context.Context, snap worldmodel.Object, session uuid.UUID, cfg Config, verifiers []verify.Verifier) {
	var (
		discard bool
		bonus   float64
	)
	for _, v := range verifiers {
		vctx, cancel := context.WithTimeout(ctx, cfg.VerificationTimeout)
		r, err := verify.Call(vctx, v, snap)
		cancel()
		if err != nil {
			t.log.Warnw("verification service unreachable", "service", v.Name(), "object", snap.ID, "error", err)
		}
		if t.debugEnabled() {
			t.DebugCollector.RecordVerification(snap.ID, v.Name(), r)
		}

		switch r {
		case verify.Discard:
			t.log.Infow("discarded object due to DISCARD from service", "object", snap.ID, "service", v.Name())
			discard = true
		case verify.Confirm:
			t.log.Infow("got CONFIRM for object", "object", snap.ID, "service", v.Name())
			bonus += cfg.ConfirmSupportBonus
		case verify.Unknown:
			t.log.Infow("verification service cannot help with object at the moment", "object", snap.ID, "service", v.Name())
		}
	}
	if !discard && bonus == 0 {
		return
	}

	t.model.WithLock(func() {
		if t.model.Session() != session {
			return
		}
		obj, ok := t.model.Get(snap.ID)
		if !ok || obj.State.IsFixed() {
			return
		}
		if discard {
			obj.State = worldmodel.StateDiscarded
		}
		obj.AddSupport(bonus)
		t.promote(obj, cfg)
	})
}
