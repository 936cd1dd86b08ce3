package types

// Category is the severity-ordered review category of a file. Categories are
// a distinguished kind of tag held in the shared case database; the cache
// never stores them, only counts them.
type Category int

const (
	CategoryZero Category = iota // uncategorized
	CategoryOne
	CategoryTwo
	CategoryThree
	CategoryFour
	CategoryFive
)

// AllCategories lists every category in severity order, CategoryZero first.
var AllCategories = []Category{
	CategoryZero, CategoryOne, CategoryTwo, CategoryThree, CategoryFour, CategoryFive,
}

// String returns the display name used in shared tag rows.
func (c Category) String() string {
	switch c {
	case CategoryZero:
		return "CAT-0"
	case CategoryOne:
		return "CAT-1"
	case CategoryTwo:
		return "CAT-2"
	case CategoryThree:
		return "CAT-3"
	case CategoryFour:
		return "CAT-4"
	case CategoryFive:
		return "CAT-5"
	default:
		return "INVALID"
	}
}
