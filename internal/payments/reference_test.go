package payments

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/school"
)

func TestNewReference(t *testing.T) {
	ref := NewReference("SF", school.GatewayFlutterwave, testNow)
	require.Regexp(t, regexp.MustCompile(`^SF_FLUTTERWAVE_1715763600000_[0-9a-z]{9}$`), ref)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		r := NewReference("", school.GatewayPaystack, testNow)
		require.False(t, seen[r])
		seen[r] = true
	}
}
