package repository

import "gorm.io/gorm"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Page selects a window of a listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// PageResult is one page of items plus the total count.
type PageResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

func paginate[T any](q *gorm.DB, p Page, order string) (*PageResult[T], error) {
	p = p.Normalize()

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	items := make([]T, 0, p.Size)
	if err := q.Session(&gorm.Session{}).Order(order).Offset(p.offset()).Limit(p.Size).Find(&items).Error; err != nil {
		return nil, err
	}

	return &PageResult[T]{Items: items, Total: total, Page: p.Number, Size: p.Size}, nil
}
