// Package ir provides the canonical data types shared by every deeds package.
//
// This package contains identifiers, field elements, cells and operations,
// together with the structured value model (IRValue) used by adaptors and
// readers. All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - structured numbers are int64, field elements uint256
//   - Operation identity is a domain-separated SHA-256 over canonical JSON
//   - All JSON tags use snake_case
//   - Identifiers encode as lowercase hex in JSON and in persisted keys
package ir
