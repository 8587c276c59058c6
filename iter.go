// Copyright (c) 2024 Fernwerk, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build goexperiment.rangefunc

package stepmap

import "iter"

// All returns an iterator over key-element pairs from d. The
// underlying Iterator is released when the loop ends, even on early
// break.
func (d *Dict[K, E]) All() iter.Seq2[K, E] {
	return func(yield func(K, E) bool) {
		it := d.Iter()
		defer it.Release()
		for it.Next() {
			if !yield(it.Key(), it.Elem()) {
				return
			}
		}
	}
}

// Keys returns an iterator over keys in d.
func (d *Dict[K, E]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		it := d.Iter()
		defer it.Release()
		for it.Next() {
			if !yield(it.Key()) {
				return
			}
		}
	}
}

// Values returns an iterator over elements in d.
func (d *Dict[K, E]) Values() iter.Seq[E] {
	return func(yield func(E) bool) {
		it := d.Iter()
		defer it.Release()
		for it.Next() {
			if !yield(it.Elem()) {
				return
			}
		}
	}
}
