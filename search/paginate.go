package search

import "strconv"

// Page is one page of a listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Number   int `json:"page"`
	NumPages int `json:"num_pages"`
	Size     int `json:"page_size"`
	Total    int `json:"total"`
}

// HasNext reports whether a later page exists.
func (p Page[T]) HasNext() bool {
	return p.Number < p.NumPages
}

// HasPrevious reports whether an earlier page exists.
func (p Page[T]) HasPrevious() bool {
	return p.Number > 1
}

// Paginate selects one page of items. A page that is not an integer selects
// page 1; an integer page out of range selects the last page. An empty
// listing has a single empty page.
func Paginate[T any](items []T, size int, page string) Page[T] {
	if size <= 0 {
		size = DefaultPageSize
	}

	total := len(items)
	numPages := (total + size - 1) / size
	if numPages == 0 {
		numPages = 1
	}

	number, err := strconv.Atoi(page)
	switch {
	case err != nil:
		number = 1
	case number < 1, number > numPages:
		number = numPages
	}

	start := (number - 1) * size
	end := min(start+size, total)
	pageItems := make([]T, 0, end-start)
	if start < end {
		pageItems = append(pageItems, items[start:end]...)
	}

	return Page[T]{
		Items:    pageItems,
		Number:   number,
		NumPages: numPages,
		Size:     size,
		Total:    total,
	}
}
