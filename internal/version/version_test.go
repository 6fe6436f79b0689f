package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvedPrefersStampedVersion(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	assert.Equal(t, "v1.2.3", Resolved())
}

func TestStringIncludesGoVersion(t *testing.T) {
	out := String()
	assert.Contains(t, out, "commit: "+Commit)
	assert.Contains(t, out, "go: "+runtime.Version())
}
