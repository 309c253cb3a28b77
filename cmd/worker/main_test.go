package main

import (
	"testing"

	"github.com/odyssey-erp/consolbatch/internal/app"
	_ "github.com/odyssey-erp/consolbatch/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatalf("expected test mode to be enabled by the guard import")
	}
	main()
}
