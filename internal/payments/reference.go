package payments

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/schoolfees/schoolfees/internal/school"
)

const referenceAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewReference builds {prefix}_{GATEWAY}_{unixMillis}_{random9}.
func NewReference(prefix string, gateway school.Gateway, now time.Time) string {
	if prefix == "" {
		prefix = "SF"
	}
	var b strings.Builder
	for i := 0; i < 9; i++ {
		b.WriteByte(referenceAlphabet[rand.IntN(len(referenceAlphabet))])
	}
	return fmt.Sprintf("%s_%s_%d_%s", prefix, strings.ToUpper(string(gateway)), now.UnixMilli(), b.String())
}
