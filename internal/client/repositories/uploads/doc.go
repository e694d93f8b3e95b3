// Package uploads persists upload checkpoints so that an interrupted
// transfer can be resumed by a later process.
//
// Every saved session row may carry a transition event; both are written in
// one transaction, so the event log never disagrees with the row.
//
//	repo := uploads.NewSQLiteRepository(db)
//	_ = repo.Save(ctx, s, &models.UploadEvent{From: prev, To: s.State})
//	paused, _ := repo.List(ctx, models.UploadFilter{States: []models.UploadState{models.UploadPaused}})
package uploads
