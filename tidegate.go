// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/tidegate/tidegate/cmd"
)

func main() {
	cmd.Execute()
}
