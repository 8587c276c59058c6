// Copyright (c) 2024 Fernwerk, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.22

package stepmap

import (
	"math/rand/v2"
)

func fastrand64() uint64 {
	return rand.Uint64()
}
