// Copyright (c) 2024 Fernwerk, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stepmap provides Dict, a hash dictionary that never blocks a
// single call for a full-table rehash. Growth is spread across
// subsequent operations: while a migration is in progress the Dict
// keeps two bucket tables and every call moves at most one bucket of
// entries from the old table to the new one.
//
// Users provide an equal and a hash function. The following
// requirements are the user's responsibility to follow:
//   - equal(a, b) => hash(a) == hash(b)
//   - equal(a, a) must be true for all values of a. Be careful around
//     NaN float values. Go's built-in `map` has special cases for
//     handling this, but `Dict` does not.
//   - The hash function must be deterministic: the same key must map
//     to the same value for the whole lifetime of a Dict. Swapping the
//     function mid-life is not supported.
//   - For good performance hash functions should return uniformly
//     distributed data across the entire 64-bits of the value.
//
// A Dict assumes a single logical mutator. Lookups advance the
// migration too, so even read-only calls may move entries; access from
// multiple goroutines must be serialized externally. The one exception
// is an open Iterator, which pauses migration until released.
package stepmap

// The layout follows the classic two-table incremental scheme. A Dict
// owns one or two tables of singly-linked entry chains. tables[0] is
// always present. When an insert pushes the load factor of the
// primary table past 1.0, a table of twice the size is installed in
// tables[1] and rehashidx starts tracking which source bucket moves
// next. Each public operation then migrates one bucket (an empty
// bucket visit counts as a unit of work too, so long empty runs cannot
// make a single call expensive). Once rehashidx sweeps the whole
// source table, tables[1] becomes tables[0] by pointer swap.
//
// Entries live in exactly one chain at any time; migration relinks
// them, it never copies. Because table sizes are powers of two,
// hash%size reduces to hash&mask.

import (
	"errors"
	"hash/maphash"
)

const (
	// MinCapacity is the smallest bucket count a Dict will use.
	MinCapacity = 4

	// Tables always grow by doubling so sizes stay powers of two.
	growthFactor = 2

	// rehashidx value while no migration is running.
	noRehash = -1

	// flags
	hashWriting = 4 // a mutating call is in progress
)

var (
	// ErrCapacity is returned by NewCap when the requested capacity is
	// not a power of two at least MinCapacity.
	ErrCapacity = errors.New("stepmap: capacity must be a power of two and at least MinCapacity")

	// ErrTableLimit is returned by Set or Update when the destination
	// table for a grow cannot be sized. The Dict stays fully usable at
	// its current size; growth is simply deferred.
	ErrTableLimit = errors.New("stepmap: table size limit reached")
)

type entry[K, E any] struct {
	key  K
	elem E
	next *entry[K, E]
}

type table[K, E any] struct {
	buckets []*entry[K, E]
	mask    uint64 // len(buckets)-1, for hash&mask indexing
	used    int
}

func newTable[K, E any](size int) *table[K, E] {
	if size <= 0 || size&(size-1) != 0 {
		panic("stepmap: table size is not a power of two")
	}
	return &table[K, E]{
		buckets: make([]*entry[K, E], size),
		mask:    uint64(size - 1),
	}
}

// Dict is a hash dictionary with incremental growth.
type Dict[K, E any] struct {
	// tables[0] is the primary table, or the migration source while a
	// migration runs. tables[1] is nil unless a migration runs, in
	// which case it is the destination and all inserts land there.
	tables [2]*table[K, E]

	// rehashidx is the next tables[0] bucket to migrate, or noRehash.
	// Buckets below it are empty.
	rehashidx int

	// iterators counts open Iterators. Migration is paused while it is
	// non-zero so iteration never sees an entry move.
	iterators int

	// Only the low bits are used; see the flag constants.
	flags uint32

	initcap int

	seed  maphash.Seed
	hash  func(maphash.Seed, K) uint64
	equal func(K, K) bool
}

// KeyElem contains a Key and Elem.
type KeyElem[K, E any] struct {
	Key  K
	Elem E
}

// New instantiates a Dict at MinCapacity, initialized with any
// KeyElems passed. The equal func must return true for two values of K
// that are equal and false otherwise. The hash func should return a
// uniformly distributed hash value. If equal(a, b) then
// hash(a) == hash(b). The hash function is passed a
// [hash/maphash.Seed], this is meant to be used with functions and
// types in the [hash/maphash] package, though can be ignored.
func New[K, E any](
	equal func(a, b K) bool,
	hash func(maphash.Seed, K) uint64,
	kes ...KeyElem[K, E]) *Dict[K, E] {

	d, err := NewCap[K, E](MinCapacity, equal, hash)
	if err != nil {
		panic(err)
	}
	for _, ke := range kes {
		if _, err := d.Set(ke.Key, ke.Elem); err != nil {
			panic(err)
		}
	}
	return d
}

// NewCap instantiates a Dict with an exact starting bucket count. See
// [New] for discussion of the equal and hash arguments. capacity must
// be a power of two and at least MinCapacity, otherwise ErrCapacity is
// returned.
func NewCap[K, E any](
	capacity int,
	equal func(a, b K) bool,
	hash func(maphash.Seed, K) uint64) (*Dict[K, E], error) {

	if capacity < MinCapacity || capacity&(capacity-1) != 0 {
		return nil, ErrCapacity
	}
	return &Dict[K, E]{
		tables:    [2]*table[K, E]{newTable[K, E](capacity)},
		rehashidx: noRehash,
		initcap:   capacity,
		seed:      maphash.MakeSeed(),
		hash:      hash,
		equal:     equal,
	}, nil
}

// Len returns the count of entries in d across both tables.
func (d *Dict[K, E]) Len() int {
	if d == nil {
		return 0
	}
	n := d.tables[0].used
	if t := d.tables[1]; t != nil {
		n += t.used
	}
	return n
}

// Rehashing reports whether an incremental migration is in progress.
func (d *Dict[K, E]) Rehashing() bool {
	return d != nil && d.rehashing()
}

func (d *Dict[K, E]) rehashing() bool {
	return d.rehashidx != noRehash
}

// rehash migrates up to n buckets from tables[0] to tables[1] and
// reports whether the migration is still in progress afterwards.
// Visiting an already-empty source bucket costs a unit of work too.
func (d *Dict[K, E]) rehash(n int) bool {
	src, dst := d.tables[0], d.tables[1]
	for ; n > 0 && d.rehashidx < len(src.buckets); n-- {
		for e := src.buckets[d.rehashidx]; e != nil; {
			next := e.next
			i := d.hash(d.seed, e.key) & dst.mask
			e.next = dst.buckets[i]
			dst.buckets[i] = e
			src.used--
			dst.used++
			e = next
		}
		src.buckets[d.rehashidx] = nil
		d.rehashidx++
	}
	if d.rehashidx < len(src.buckets) {
		return true
	}
	// Migration finished: the destination becomes the primary table by
	// pointer swap.
	d.tables[0] = dst
	d.tables[1] = nil
	d.rehashidx = noRehash
	return false
}

// rehashStep performs the single unit of migration work that every
// public operation contributes while a migration runs. Open iterators
// pause it.
func (d *Dict[K, E]) rehashStep() {
	if d.iterators == 0 {
		d.rehash(1)
	}
}

// Rehash migrates up to n buckets and reports whether a migration is
// still in progress. Hosts can call it from idle paths to burn down a
// pending migration faster than one bucket per operation. It is a
// no-op while an Iterator is open.
func (d *Dict[K, E]) Rehash(n int) bool {
	if d == nil || !d.rehashing() {
		return false
	}
	if d.iterators > 0 {
		return true
	}
	return d.rehash(n)
}

// grow installs a destination table of the given size and arms the
// migration cursor. No entries move yet.
func (d *Dict[K, E]) grow(size int) error {
	if size <= len(d.tables[0].buckets) {
		// Doubling wrapped around; the table cannot get any bigger.
		return ErrTableLimit
	}
	d.tables[1] = newTable[K, E](size)
	d.rehashidx = 0
	return nil
}

// overLoadFactor reports whether count entries in nbuckets buckets is
// past the high watermark of 1.0.
func overLoadFactor(count, nbuckets int) bool {
	return count > nbuckets
}

// lookup finds the entry for key, checking the migration source first
// and then the destination. At most one of the two can hold the key.
func (d *Dict[K, E]) lookup(hash uint64, key K) *entry[K, E] {
	t := d.tables[0]
	for e := t.buckets[hash&t.mask]; e != nil; e = e.next {
		if d.equal(key, e.key) {
			return e
		}
	}
	if t = d.tables[1]; t != nil {
		for e := t.buckets[hash&t.mask]; e != nil; e = e.next {
			if d.equal(key, e.key) {
				return e
			}
		}
	}
	return nil
}

// insert adds a fresh entry for key, which must not be present, to the
// destination table, growing first if the load factor calls for it.
func (d *Dict[K, E]) insert(hash uint64, key K) (*entry[K, E], error) {
	t := d.tables[0]
	if !d.rehashing() && overLoadFactor(t.used+1, len(t.buckets)) {
		if err := d.grow(growthFactor * len(t.buckets)); err != nil {
			return nil, err
		}
	}
	if d.rehashing() {
		t = d.tables[1]
	}
	i := hash & t.mask
	e := &entry[K, E]{key: key, next: t.buckets[i]}
	t.buckets[i] = e
	t.used++
	return e, nil
}

// Get returns the element associated with key and true if that key is
// in the Dict, otherwise it returns the zero value of E and false.
func (d *Dict[K, E]) Get(key K) (E, bool) {
	if p := d.Ref(key); p != nil {
		return *p, true
	}
	var zeroE E
	return zeroE, false
}

// Ref returns a pointer to the element associated with key, or nil if
// the key is not present. The pointer stays valid only until the next
// call on d that can mutate or migrate, which includes Get: entries
// move between tables while a migration runs.
func (d *Dict[K, E]) Ref(key K) *E {
	if d == nil {
		return nil
	}
	if d.rehashing() {
		d.rehashStep()
	}
	if d.Len() == 0 {
		return nil
	}
	if e := d.lookup(d.hash(d.seed, key), key); e != nil {
		return &e.elem
	}
	return nil
}

// Set associates key with elem in d and reports whether the key was
// newly added (false means an existing entry was overwritten in
// place). The only possible error is ErrTableLimit when a needed grow
// cannot be sized; the entry is not added in that case.
func (d *Dict[K, E]) Set(key K, elem E) (bool, error) {
	if d == nil {
		// We have to panic here rather than initialize an empty Dict
		// because we need the user to pass in hash and equal
		// functions.
		panic("Set called on nil Dict")
	}
	if d.flags&hashWriting != 0 {
		panic("concurrent Dict writes")
	}
	hash := d.hash(d.seed, key)
	// Set hashWriting after calling d.hash, since d.hash may panic, in
	// which case we have not actually done a write.
	d.flags ^= hashWriting

	added, err := d.set(hash, key, elem)

	if d.flags&hashWriting == 0 {
		panic("concurrent Dict writes")
	}
	d.flags &^= hashWriting
	return added, err
}

func (d *Dict[K, E]) set(hash uint64, key K, elem E) (bool, error) {
	if d.rehashing() {
		d.rehashStep()
	}
	if e := d.lookup(hash, key); e != nil {
		e.elem = elem
		return false, nil
	}
	e, err := d.insert(hash, key)
	if err != nil {
		return false, err
	}
	e.elem = elem
	return true, nil
}

// Update sets the element for key to f(cur), where cur is the current
// element or the zero value of E if key is not present. Absent keys
// are added. Like Set it can return ErrTableLimit.
func (d *Dict[K, E]) Update(key K, f func(cur E) E) error {
	if d == nil {
		panic("Update called on nil Dict")
	}
	if d.flags&hashWriting != 0 {
		panic("concurrent Dict writes")
	}
	hash := d.hash(d.seed, key)
	d.flags ^= hashWriting

	err := d.update(hash, key, f)

	if d.flags&hashWriting == 0 {
		panic("concurrent Dict writes")
	}
	d.flags &^= hashWriting
	return err
}

func (d *Dict[K, E]) update(hash uint64, key K, f func(cur E) E) error {
	if d.rehashing() {
		d.rehashStep()
	}
	if e := d.lookup(hash, key); e != nil {
		e.elem = f(e.elem)
		return nil
	}
	e, err := d.insert(hash, key)
	if err != nil {
		return err
	}
	var zeroE E
	e.elem = f(zeroE)
	return nil
}

// Delete removes key and its associated element from d and reports
// whether the key was present. Deleting never shrinks the table.
func (d *Dict[K, E]) Delete(key K) bool {
	if d == nil {
		return false
	}
	if d.flags&hashWriting != 0 {
		panic("concurrent Dict writes")
	}
	hash := d.hash(d.seed, key)
	d.flags ^= hashWriting

	removed := d.delete(hash, key)

	if d.flags&hashWriting == 0 {
		panic("concurrent Dict writes")
	}
	d.flags &^= hashWriting
	return removed
}

func (d *Dict[K, E]) delete(hash uint64, key K) bool {
	if d.rehashing() {
		d.rehashStep()
	}
	removed := d.unlink(d.tables[0], hash, key)
	if !removed && d.tables[1] != nil {
		removed = d.unlink(d.tables[1], hash, key)
	}
	// Reset the hash seed to make it more difficult for attackers to
	// repeatedly trigger hash collisions. Safe only while no entry
	// holds a position computed from the old seed.
	if removed && d.Len() == 0 {
		d.seed = maphash.MakeSeed()
	}
	return removed
}

func (d *Dict[K, E]) unlink(t *table[K, E], hash uint64, key K) bool {
	p := &t.buckets[hash&t.mask]
	for e := *p; e != nil; e = *p {
		if d.equal(key, e.key) {
			*p = e.next
			e.next = nil
			t.used--
			return true
		}
		p = &e.next
	}
	return false
}

// Clear deletes all keys from d, shrinking it back to its starting
// capacity and abandoning any migration in progress.
func (d *Dict[K, E]) Clear() {
	if d == nil {
		return
	}
	if d.flags&hashWriting != 0 {
		panic("concurrent Dict writes")
	}
	d.flags ^= hashWriting

	d.tables[0] = newTable[K, E](d.initcap)
	d.tables[1] = nil
	d.rehashidx = noRehash
	d.seed = maphash.MakeSeed()

	if d.flags&hashWriting == 0 {
		panic("concurrent Dict writes")
	}
	d.flags &^= hashWriting
}

// RandomKey returns a key sampled from d, or false if d is empty. The
// sampling is only approximately uniform: keys in longer chains are
// slightly favored, like any bucket-then-chain scheme.
func (d *Dict[K, E]) RandomKey() (K, bool) {
	var zeroK K
	if d == nil {
		return zeroK, false
	}
	if d.rehashing() {
		d.rehashStep()
	}
	if d.Len() == 0 {
		return zeroK, false
	}
	var e *entry[K, E]
	if d.rehashing() {
		// Pick over the buckets of both tables, skipping the migrated
		// prefix of the source table. Len > 0 guarantees a hit
		// eventually.
		src, dst := d.tables[0], d.tables[1]
		span := len(src.buckets) + len(dst.buckets) - d.rehashidx
		for e == nil {
			i := d.rehashidx + int(fastrand64()%uint64(span))
			if i < len(src.buckets) {
				e = src.buckets[i]
			} else {
				e = dst.buckets[i-len(src.buckets)]
			}
		}
	} else {
		t := d.tables[0]
		for e == nil {
			e = t.buckets[fastrand64()&t.mask]
		}
	}
	n := 0
	for c := e; c != nil; c = c.next {
		n++
	}
	for i := int(fastrand64() % uint64(n)); i > 0; i-- {
		e = e.next
	}
	return e.key, true
}

// Iterator is instantiated by a call to Iter(). It allows iterating
// over a Dict.
type Iterator[K, E any] struct {
	key      K
	elem     E
	d        *Dict[K, E]
	e        *entry[K, E] // next entry within the current chain
	table    int
	bucket   int // buckets visited so far in the current table
	start    int // randomized first bucket of the current table
	released bool
}

// Iter instantiates an Iterator to explore the entries of the Dict.
// Ordering is undefined and is intentionally randomized. An open
// Iterator pauses migration, so lookups on d stay safe while
// iterating; mutating d before Release is not supported. Release must
// be called when done, Next does it automatically on exhaustion.
func (d *Dict[K, E]) Iter() *Iterator[K, E] {
	if d == nil || d.Len() == 0 {
		return &Iterator[K, E]{released: true}
	}
	d.iterators++
	return &Iterator[K, E]{
		d:     d,
		start: int(fastrand64() & d.tables[0].mask),
	}
}

// Next moves the iterator to the next entry. Next returns false when
// the iterator is complete.
func (it *Iterator[K, E]) Next() bool {
	if it.d == nil {
		return false
	}
	for {
		if it.e == nil {
			t := it.d.tables[it.table]
			if it.bucket == len(t.buckets) {
				if it.table == 0 && it.d.rehashing() {
					// The source table is done; the rest of the
					// entries live in the migration destination.
					it.table = 1
					it.bucket = 0
					t = it.d.tables[1]
					it.start = int(fastrand64() & t.mask)
				} else {
					var zeroK K
					var zeroE E
					it.key = zeroK
					it.elem = zeroE
					it.Release()
					return false
				}
			}
			i := it.start + it.bucket
			if n := len(t.buckets); i >= n {
				i -= n
			}
			it.e = t.buckets[i]
			it.bucket++
			continue
		}
		it.key = it.e.key
		it.elem = it.e.elem
		it.e = it.e.next
		return true
	}
}

// Key returns the key at the iterator's current position. This is
// only valid after a call to Next() that returns true.
func (it *Iterator[K, E]) Key() K {
	return it.key
}

// Elem returns the element at the iterator's current position. This
// is only valid after a call to Next() that returns true.
func (it *Iterator[K, E]) Elem() E {
	return it.elem
}

// Release unpins migration. It is idempotent and safe to call on an
// exhausted iterator.
func (it *Iterator[K, E]) Release() {
	if it.released {
		return
	}
	it.released = true
	it.d.iterators--
}
