// Copyright (c) 2024 Fernwerk, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.19 && !go1.22

package stepmap

import (
	_ "unsafe"
)

//go:linkname fastrand64 runtime.fastrand64
func fastrand64() uint64
