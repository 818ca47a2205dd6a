package system

import (
	"fmt"
)

// FormatBytes renders a byte count in binary units, one decimal past the
// point once it reaches a KiB.
func FormatBytes[T int | int16 | int32 | int64 | uint | uint16 | uint32 | uint64](b T) string {
	const unit = 1024
	n := uint64(b)
	if b < 0 || n < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for rest := n / unit; rest >= unit && exp < 5; rest /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
