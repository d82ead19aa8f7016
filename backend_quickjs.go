//go:build !v8

package spawn

import (
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/quickjs"
)

func newEngine() core.Engine {
	return quickjs.NewEngine()
}
