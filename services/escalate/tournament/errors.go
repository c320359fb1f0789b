// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tournament

import "errors"

// Sentinel errors for the tournament scheduler.
var (
	// ErrNoHypotheses indicates an empty candidate set.
	ErrNoHypotheses = errors.New("tournament requires at least one hypothesis")

	// ErrDuplicateHypothesisID indicates two candidates share an id.
	ErrDuplicateHypothesisID = errors.New("hypothesis ids must be unique")

	// ErrEmptyHypothesisID indicates a candidate without an id.
	ErrEmptyHypothesisID = errors.New("hypothesis id must not be empty")

	// ErrInvalidConfig indicates a non-positive tournament parameter.
	ErrInvalidConfig = errors.New("invalid tournament configuration")

	// ErrUnparsableScore indicates the analyzer response carried no score.
	ErrUnparsableScore = errors.New("analyzer response carried no parseable score")
)
