package repository

import "gorm.io/gorm"

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is 1-based. Out of range values are clamped, never rejected.
type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) offset() int { return (p.Page - 1) * p.PageSize }

func pageCount(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// paginate counts base and loads one ordered page of it. base must already
// carry the model and filters; the tenant filter is added by the plugin.
func paginate[T any](base *gorm.DB, req PageRequest, order string) (PageResult[T], error) {
	req = req.normalized()
	res := PageResult[T]{Page: req.Page, PageSize: req.PageSize, Items: []T{}}
	base = base.Session(&gorm.Session{})
	if err := base.Count(&res.Total).Error; err != nil {
		return PageResult[T]{}, err
	}
	if err := base.Order(order).Offset(req.offset()).Limit(req.PageSize).Find(&res.Items).Error; err != nil {
		return PageResult[T]{}, err
	}
	res.TotalPages = pageCount(res.Total, req.PageSize)
	return res, nil
}
