// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the fedquery packages.
//
// # Key Functions
//
// Display:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis (audit lines)
//   - TruncateWidth, PadWidth: terminal-width aware cell formatting
//   - FormatValue: render a SQL value for tables and sample blocks
//
// File Operations:
//   - AtomicWriteFile: crash-safe writes for config files
//   - ResolvePath: expand "~" and make store paths absolute
package util
