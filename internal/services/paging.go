package services

import "github.com/vnmodhub/modhub/internal/utils"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, size int) (int, int) {
	return utils.NormalizePage(page, size, defaultPageSize, maxPageSize)
}
