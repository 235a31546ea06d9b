package main

import (
	"testing"

	_ "github.com/odyssey-erp/dcops/internal/testing/guard"
)

func TestWorkerReturnsInTestMode(t *testing.T) {
	main()
}
