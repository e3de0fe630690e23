//go:build tools
// +build tools

// Package tools tracks go:generate tool dependencies (mockgen) in go.mod.
package directchat

import (
	_ "go.uber.org/mock/mockgen"
)
