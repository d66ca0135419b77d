// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cancel implements generation-scoped cooperative cancellation for
// the analysis database.
//
// Every generation of the database owns one Flag. All snapshots of that
// generation share the Flag. When the host wants to edit, it raises the Flag;
// in-flight queries observe the raised Flag at their next poll point, abort
// with ErrCancelled, and release their snapshots, which lets the host acquire
// exclusive access.
//
// # Lifecycle
//
// A Flag moves through exactly three states, in one direction only:
//
//	Active      queries run to completion; Check returns nil
//	Cancelling  an edit is pending; running queries abort at their next poll
//	Superseded  a newer generation exists; the flag stays raised forever
//
// There is no transition back to Active. A new generation always starts with
// a fresh Flag in the Active state.
//
// # Polling contract
//
// Query implementations must call Check (or select on Done) at bounded
// intervals inside any potentially long-running loop. A query that never
// polls can delay an edit indefinitely; that is a contract violation by the
// query, not a defect of the protocol. See the engine package for the poll
// granularity used by the built-in queries.
package cancel
