package upload

import "context"

// Uploader archives a run's raw capture artifacts to remote storage.
// The raw pcapng files stay the source of truth for frame rows, so they
// are kept even after ingestion into the result store.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadRunArtifacts uploads the given local files under
	// prefix + "/" + runName + "/" + basename.
	UploadRunArtifacts(ctx context.Context, runName string, paths []string) error
}
