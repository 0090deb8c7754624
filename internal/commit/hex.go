package commit

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
