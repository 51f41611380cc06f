// Package alloc implements the allocate/free pair the call engine uses for
// transient scratch memory during marshalling.
//
// Every region is preceded by an 8-byte header (requested size and a guard
// word derived from it) because the release call receives only the
// pointer. Blocks are multiples of 16 bytes and regions are 16-byte
// aligned; the free list is first-fit, address ordered and coalesced.
package alloc
