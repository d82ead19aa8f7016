//go:build v8

package spawn

import (
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/v8engine"
)

func newEngine() core.Engine {
	return v8engine.NewEngine()
}
