// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/metrics"
	"github.com/tomtom215/drivebackup/internal/models"
)

// guard is armed at the start of a phase and runs on every way out of it:
// normal return, error, panic or cancellation. On failure it classifies the
// interruption and persists whatever progress the job record holds.
type guard struct {
	c     *Controller
	ctx   context.Context
	job   *models.Job
	jlog  *JobLog
	phase string
	start time.Time
}

func (c *Controller) arm(ctx context.Context, job *models.Job, jlog *JobLog, phase string) *guard {
	return &guard{c: c, ctx: ctx, job: job, jlog: jlog, phase: phase, start: c.now()}
}

// done must be deferred directly by the phase so recover sees the panic.
func (g *guard) done(errp *error) {
	if r := recover(); r != nil {
		*errp = fmt.Errorf("%s phase panicked: %v", g.phase, r)
		logging.Ctx(g.ctx).Error().
			Str("phase", g.phase).
			Str("stack", string(debug.Stack())).
			Msg("Backup phase panicked")
	}

	metrics.RecordPhase(g.phase, g.c.now().Sub(g.start), *errp)
	if *errp == nil {
		return
	}

	if g.ctx.Err() != nil {
		if g.phase == phaseUpload {
			g.jlog.Warning("The upload timed out mid-transfer and can be resumed")
		} else {
			g.jlog.Error("The %s never finished", g.phase)
		}
	}

	// the phase context may be gone; progress must still be written
	if err := g.c.ledger.Save(context.WithoutCancel(g.ctx), g.job); err != nil {
		logging.CtxErr(g.ctx, err).Str("phase", g.phase).Msg("Failed to persist job progress")
	}
}
