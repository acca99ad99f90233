// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuseproto encodes and decodes the wire structures of the
// Linux kernel FUSE protocol that packagefs needs: the request and
// reply headers, INIT negotiation, attribute replies, directory entry
// replies, and the open/read argument structures.
//
// The opcode constants cover the requests packagefs answers (INIT,
// LOOKUP, GETATTR, OPEN, READ, FLUSH, RELEASE) plus FORGET and SETATTR,
// which it does not answer. Everything not answered is left to the
// caller to reject with ENOSYS. Struct layouts mirror
// linux/fuse.h field-for-field; encoding is little-endian and
// explicit (no reliance on Go struct layout matching C layout).
package fuseproto
