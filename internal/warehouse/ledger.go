package warehouse

import (
	"context"
	"database/sql"
	"fmt"
)

// FileStatus is the processing state of one snapshot file in the
// processed_files ledger.
type FileStatus string

const (
	// StatusWaiting means the file is registered but not yet (fully)
	// processed. Files are registered WAITING before any side effect so a
	// crash mid-run leaves them re-processable.
	StatusWaiting FileStatus = "WAITING"
	// StatusProcessed means the file's transaction committed; it is
	// skipped on re-runs.
	StatusProcessed FileStatus = "PROCESSED"
	// StatusError means processing the file failed; it will be retried on
	// the next run.
	StatusError FileStatus = "ERROR"
)

// RegisterFile records a snapshot file as WAITING if it isn't in the ledger
// yet. Existing entries keep their status.
//
// This runs outside the per-file transaction on purpose: registration must
// precede any side effect of processing the file.
func (db *DB) RegisterFile(ctx context.Context, fileID string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_files (file_id, status) VALUES (?, ?)",
		fileID, string(StatusWaiting))
	if err != nil {
		return fmt.Errorf("failed to register file %q: %w", fileID, err)
	}
	return nil
}

// FileStatus returns the ledger status for a file. Unregistered files
// report StatusWaiting.
func (db *DB) FileStatus(ctx context.Context, fileID string) (FileStatus, error) {
	var status string
	err := db.conn.QueryRowContext(ctx,
		"SELECT status FROM processed_files WHERE file_id = ?", fileID).Scan(&status)
	if err == sql.ErrNoRows {
		return StatusWaiting, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up file %q: %w", fileID, err)
	}
	return FileStatus(status), nil
}

// SetFileStatus updates the ledger entry for a file.
//
// The engine only flips a file to PROCESSED after its transaction commits,
// so the ledger can never claim success for work that was rolled back.
func (db *DB) SetFileStatus(ctx context.Context, fileID string, status FileStatus) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE processed_files SET status = ? WHERE file_id = ?",
		string(status), fileID)
	if err != nil {
		return fmt.Errorf("failed to set file %q to %s: %w", fileID, status, err)
	}
	return nil
}

// ResetLedger clears the processed_files ledger, forcing the next run to
// re-process every snapshot file. Fact rows are untouched; reprocessing an
// unchanged snapshot is a checksum no-op.
func (db *DB) ResetLedger(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM processed_files")
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	return nil
}
