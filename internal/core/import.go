package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/basicitems/internal/logging"
)

// Import reconciles rows into projectID and commits the survivors.
//
// Row problems are reported in the returned report. An error is returned
// when the import could not run at all (unknown project, throttled, empty)
// or when the commit failed; in the latter case the report is also returned
// with Status ImportFailed and the rows rejected before the commit.
func (s *Service) Import(ctx context.Context, projectID uuid.UUID, rows []RawRow) (report *ImportReport, err error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if len(rows) > s.opts.MaxImportRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(rows), s.opts.MaxImportRows)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ImportTimeout)
	defer cancel()

	importID := uuid.NewString()
	log := logging.WithFields(ctx, "import_id", importID, "project_id", projectID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in import", "panic", r, "stack", string(debug.Stack()))
			report, err = nil, fmt.Errorf("import %s: internal error", importID)
		}
	}()

	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rec, err := s.reconciler.Reconcile(ctx, projectID, rows)
	if err != nil {
		return nil, err
	}
	s.rec.ImportRows("accepted", len(rec.Accepted))
	s.rec.ImportRows("rejected", len(rec.Rejected))

	report = &ImportReport{ImportID: importID, Errors: rec.Rejected}
	if len(rec.Accepted) == 0 {
		report.Status = importStatus(0, len(rec.Rejected))
		s.rec.ImportCommitted(string(report.Status), 0)
		log.Info("import rejected", "rejected", len(rec.Rejected))
		return report, nil
	}

	start := time.Now()
	res, err := s.reconciler.Commit(ctx, rec)
	elapsed := time.Since(start)
	if err != nil {
		report.Status = ImportFailed
		report.Failure = FormatUserError(err)
		s.rec.ImportCommitted(string(report.Status), elapsed)
		log.Error("import commit failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return report, fmt.Errorf("import %s: %w", importID, err)
	}

	s.rec.ImportRows("inserted", len(res.Inserted))
	s.rec.ImportRows("skipped", len(res.Skipped))

	report.SuccessCount = len(res.Inserted)
	report.Errors = mergeRowErrors(rec.Rejected, res.Skipped)
	report.Status = importStatus(len(rec.Accepted), len(report.Errors))
	s.rec.ImportCommitted(string(report.Status), elapsed)

	log.Info("import committed",
		"status", report.Status,
		"inserted", report.SuccessCount,
		"errors", len(report.Errors),
		"duration_ms", elapsed.Milliseconds(),
	)
	return report, nil
}

// importStatus grades a committed import. Rejected is reserved for batches
// where no row passed validation; rows skipped because their code already
// exists still count as accepted.
func importStatus(accepted, errs int) ImportStatus {
	switch {
	case accepted == 0:
		return ImportRejected
	case errs > 0:
		return ImportPartial
	default:
		return ImportSuccess
	}
}

// mergeRowErrors merges two row-ordered lists.
func mergeRowErrors(a, b []RowError) []RowError {
	out := make([]RowError, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Row < a[i].Row {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
