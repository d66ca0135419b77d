// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"

	"github.com/AleutianAI/kodiak/services/analysis/cancel"
)

// Sentinel errors for the analysis service.
var (
	// ErrSnapshotReleased indicates a query was issued through a snapshot
	// handle that was already released.
	ErrSnapshotReleased = errors.New("snapshot already released")

	// ErrCancelled is the protocol's recoverable cancellation outcome,
	// re-exported so callers don't need to import the cancel package.
	ErrCancelled = cancel.ErrCancelled
)

// IsCancelled reports whether err is the protocol's cancellation outcome.
// Callers receiving a cancelled result should retry against a fresh
// snapshot.
func IsCancelled(err error) bool {
	return cancel.IsCancelled(err)
}
