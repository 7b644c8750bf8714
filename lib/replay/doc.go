// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay drives a telemetry tracker from a playback script.
//
// Scripts are JSONC (JSON with // and /* */ comments and trailing
// commas):
//
//	{
//	  "attributes": {"tier": "gold"},
//	  "sessions": [
//	    {
//	      "id": "session-1",
//	      "steps": [
//	        {"op": "created"},
//	        {"op": "started", "position": 0},
//	        {"op": "paused", "position": 12000, "wait": "12s"},
//	        {"op": "completed", "wait": "1m"},
//	      ],
//	    },
//	  ],
//	}
//
// Each session's steps run in order on their own goroutine; "wait"
// sleeps on the injected clock before the step. When every session
// has finished, [Run] shuts the tracker down, which aborts whatever is
// still playing and makes one final dispatch.
package replay
