// Copyright (c) 2024 Fernwerk, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stepmap

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// String converts d to a string representation using K's and E's
// String functions.
func String[K fmt.Stringer, E fmt.Stringer](d *Dict[K, E]) string {
	return StringFunc(d,
		func(key K) string { return key.String() },
		func(elem E) string { return elem.String() },
	)
}

type strKE struct {
	k string
	e string
}

// StringFunc converts d to a string representation with the help of
// strK and strE functions to stringify d's keys and elems. Entries are
// sorted by key string, so the output is deterministic.
func StringFunc[K any, E any](d *Dict[K, E],
	strK func(key K) string,
	strE func(elem E) string) string {
	if d == nil || d.Len() == 0 {
		return "stepmap.Dict[]"
	}
	strs := make([]strKE, d.Len())
	s := 0
	i := 0
	it := d.Iter()
	defer it.Release()
	for it.Next() {
		ke := &strs[i]
		ke.k = strK(it.Key())
		ke.e = strE(it.Elem())
		s += len(ke.k) + len(ke.e)
		i++
	}
	slices.SortFunc(strs, func(a, b strKE) bool { return a.k < b.k })

	var b strings.Builder
	b.Grow(len("stepmap.Dict[]") + // space for header and footer
		len(strs)*2 - 1 + // space for delimiters
		s) // space for keys and elems
	b.WriteString("stepmap.Dict[")
	for i, ke := range strs {
		if i != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(ke.k)
		b.WriteByte(':')
		b.WriteString(ke.e)
	}
	b.WriteByte(']')
	return b.String()
}

// Equal returns true if the same set of keys and elems are in d1 and
// d2. Elements are compared using ==.
func Equal[K any, E comparable](d1, d2 *Dict[K, E]) bool {
	if d1.Len() != d2.Len() {
		return false
	}
	it := d1.Iter()
	defer it.Release()
	for it.Next() {
		e2, ok := d2.Get(it.Key())
		if !ok || it.Elem() != e2 {
			return false
		}
	}
	return true
}

// EqualFunc returns true if the same set of keys and elems are in d1
// and d2. Elements are compared using eq.
func EqualFunc[K, E any](d1, d2 *Dict[K, E], eq func(E, E) bool) bool {
	if d1.Len() != d2.Len() {
		return false
	}
	it := d1.Iter()
	defer it.Release()
	for it.Next() {
		e2, ok := d2.Get(it.Key())
		if !ok || !eq(it.Elem(), e2) {
			return false
		}
	}
	return true
}
