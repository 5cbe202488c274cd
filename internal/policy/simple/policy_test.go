package simple

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repothread/internal/repothread"
)

var _ repothread.AdmissionPolicy = (*Policy)(nil)

func TestPolicyAllowsEveryKey(t *testing.T) {
	t.Parallel()

	p := New()
	for _, key := range []string{"", "unknown", "192.0.2.1"} {
		for range 100 {
			require.True(t, p.Allow(key))
		}
	}
}
