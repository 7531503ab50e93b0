// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline implements fedquery's local-only mode.
//
// Generator prompts carry schema fragments with sample rows from every
// granted store. In offline mode those prompts may only go to a generator
// on the loopback interface, and `fedquery serve` may only listen there.
//
// The mode is process-wide and set once from configuration:
//
//	offline.SetOfflineMode(cfg.Offline)
//
//	// Before talking to a generator endpoint
//	if err := offline.ValidateURL(baseURL); err != nil {
//		return err
//	}
//
// CheckURL and CheckListenAddr are the pure forms used during config
// validation, before the mode is set.
package offline
