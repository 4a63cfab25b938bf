package piecepicker

import "fmt"

func formatSize(size float64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	unit := 0
	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f%s", size, units[unit])
}
