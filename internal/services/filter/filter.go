// Package filter holds the criteria a dashboard view uses to query the event
// listing endpoint.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// CategoryAll is the category value meaning "no category constraint".
const CategoryAll = "all"

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("filter: date must be YYYY-MM-DD")

// Criteria is the filter of one mounted view. Dates are ISO calendar dates
// (YYYY-MM-DD); an empty field means no constraint.
type Criteria struct {
	Title     string `json:"title"`
	Category  string `json:"category"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

// QueryParams maps the criteria to listing endpoint query parameters. Empty
// fields are left out so the server applies no constraint for them.
func (c Criteria) QueryParams() url.Values {
	q := url.Values{}
	if c.Title != "" {
		q.Set("title", c.Title)
	}
	if c.Category != "" && c.Category != CategoryAll {
		q.Set("category", c.Category)
	}
	if c.StartDate != "" {
		q.Set("startDate", c.StartDate)
	}
	if c.EndDate != "" {
		q.Set("endDate", c.EndDate)
	}
	return q
}

// FromQuery reads criteria from a browser query string.
func FromQuery(q url.Values) (Criteria, error) {
	var p Patch
	for key, dst := range map[string]**string{
		"title":     &p.Title,
		"category":  &p.Category,
		"startDate": &p.StartDate,
		"endDate":   &p.EndDate,
	} {
		if q.Has(key) {
			v := q.Get(key)
			*dst = &v
		}
	}
	if err := p.Validate(); err != nil {
		return Criteria{}, err
	}
	return Criteria{}.Apply(p), nil
}

// Patch is a partial criteria update. Nil fields are left untouched.
type Patch struct {
	Title     *string `json:"title,omitempty"`
	Category  *string `json:"category,omitempty"`
	StartDate *string `json:"startDate,omitempty"`
	EndDate   *string `json:"endDate,omitempty"`
}

// Validate rejects dates that are neither empty nor YYYY-MM-DD.
func (p Patch) Validate() error {
	for name, v := range map[string]*string{"startDate": p.StartDate, "endDate": p.EndDate} {
		if v == nil {
			continue
		}
		if d := strings.TrimSpace(*v); d != "" {
			if _, err := time.Parse(DateLayout, d); err != nil {
				return fmt.Errorf("%w: %s %q", ErrInvalidDate, name, d)
			}
		}
	}
	return nil
}

// Str is a small helper for building patches.
func Str(v string) *string { return &v }

// Apply merges p into c.
//
// A date edit never leaves an inverted range: moving the end before the start
// pulls the start to the new end, and moving the start past a set end pushes
// the end to the new start. When a patch carries both bounds the start is
// applied first, then the end. Bounds are compared as calendar dates; callers
// run Validate first.
func (c Criteria) Apply(p Patch) Criteria {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Category != nil {
		c.Category = normalizeCategory(*p.Category)
	}
	if p.StartDate != nil {
		start := strings.TrimSpace(*p.StartDate)
		c.StartDate = start
		if after(start, c.EndDate) {
			c.EndDate = start
		}
	}
	if p.EndDate != nil {
		end := strings.TrimSpace(*p.EndDate)
		c.EndDate = end
		if after(c.StartDate, end) {
			c.StartDate = end
		}
	}
	return c
}

// after reports whether date a falls after date b. Either one empty or
// unparsable means no ordering.
func after(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ta, errA := time.Parse(DateLayout, a)
	tb, errB := time.Parse(DateLayout, b)
	if errA != nil || errB != nil {
		return false
	}
	return ta.After(tb)
}

func normalizeCategory(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, CategoryAll) {
		return ""
	}
	return v
}

// Model owns the criteria of one view and asks for a re-query on every change.
type Model struct {
	mu       sync.Mutex
	criteria Criteria
	requery  func(Criteria)
}

// NewModel starts from initial and calls requery after every SetFilter/Reset.
func NewModel(initial Criteria, requery func(Criteria)) *Model {
	return &Model{criteria: initial, requery: requery}
}

func (m *Model) Criteria() Criteria {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.criteria
}

// SetFilter merges p into the current criteria and triggers a re-query.
func (m *Model) SetFilter(p Patch) Criteria {
	m.mu.Lock()
	m.criteria = m.criteria.Apply(p)
	c := m.criteria
	m.mu.Unlock()

	m.notify(c)
	return c
}

// Reset restores the empty criteria and triggers a re-query.
func (m *Model) Reset() Criteria {
	m.mu.Lock()
	m.criteria = Criteria{}
	m.mu.Unlock()

	m.notify(Criteria{})
	return Criteria{}
}

func (m *Model) notify(c Criteria) {
	if m.requery != nil {
		m.requery(c)
	}
}
