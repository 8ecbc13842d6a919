// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/arvados/thunder"
)

func main() {
	thunder.Main()
}
