package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts limit and offset query parameters, clamping the limit
// to MaxLimit.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	p := Params{Limit: limit, Offset: offset}
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: p.HasNext(total),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page, never negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// LinkHeader builds an RFC 8288 Link header value with next and prev
// relations for the page. Other query parameters of u are preserved. It
// returns "" on a single-page result.
func (p Params) LinkHeader(u *url.URL, total int) string {
	var links []string
	if p.HasNext(total) {
		links = append(links, fmt.Sprintf(`<%s>; rel="next"`, p.pageURL(u, p.NextOffset())))
	}
	if p.HasPrevious() {
		links = append(links, fmt.Sprintf(`<%s>; rel="prev"`, p.pageURL(u, p.PreviousOffset())))
	}
	return strings.Join(links, ", ")
}

func (p Params) pageURL(u *url.URL, offset int) string {
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	out := *u
	out.RawQuery = q.Encode()
	return out.RequestURI()
}

// Write sets the Link header and returns the paginated response body.
func Write(c echo.Context, p Params, data interface{}, total int) *Response {
	if link := p.LinkHeader(c.Request().URL, total); link != "" {
		c.Response().Header().Set("Link", link)
	}
	return NewResponse(data, total, p.Limit, p.Offset)
}
