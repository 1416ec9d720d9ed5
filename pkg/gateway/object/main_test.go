// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
