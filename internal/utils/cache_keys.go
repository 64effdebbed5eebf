package utils

import (
	"strconv"
	"strings"
)

// BuildDriverPreviewCacheKey keys the anonymous directory preview by its filters.
func BuildDriverPreviewCacheKey(query, category string, limit int) string {
	q := strings.ToLower(strings.TrimSpace(query))
	c := strings.ToLower(strings.TrimSpace(category))

	return "drivers:preview:v1:limit=" + strconv.Itoa(limit) +
		":q=" + q +
		":category=" + c
}

const AdminStatsCacheKey = "admin:stats:v1"
