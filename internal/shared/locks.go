package shared

import (
	"fmt"
	"strings"
)

// ConsolRunLockKey builds redis keys guarding a consolidation run for a scope.
func ConsolRunLockKey(scope string) string {
	return fmt.Sprintf("consol:run:%s:lock", strings.ToLower(strings.TrimSpace(scope)))
}
