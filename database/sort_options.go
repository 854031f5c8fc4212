package database

const (
	SortImageAsc = "image_asc"
	SortImageNat = "image_nat"
	SortDateDesc = "date_desc"
	SortDateAsc  = "date_asc"
)

const DefaultSortOrder = SortImageNat

// IsValidSortOrder checks if a string is a valid sort order constant
func IsValidSortOrder(order string) bool {
	switch order {
	case SortImageAsc, SortDateDesc, SortDateAsc, SortImageNat:
		return true
	default:
		return false
	}
}
