// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/gwasqc/sumclean"

func main() {
	sumclean.Main()
}
