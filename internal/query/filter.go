// Package query turns sparse request filter parameters into deterministic
// storage predicates and shapes results into pagination envelopes.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// All is the sentinel the UI sends for "not specified"; it never becomes a
// predicate.
const All = "All"

const (
	DefaultPage  = 1
	DefaultLimit = 10

	dateLayout = "2006-01-02"
)

// ErrInvalidFilter marks filter parameters that fail normalization. It is
// rejected before any storage call.
var ErrInvalidFilter = errors.New("invalid filter")

// TriState is the three-way presence filter ("checked" / "unchecked" / all).
type TriState int

const (
	Any TriState = iota
	Present
	Absent
)

// FilterSpec is the raw, request-scoped filter input. Zero values mean "not
// specified". It is never persisted.
type FilterSpec struct {
	Page        int
	Limit       int
	ProfileID   string
	ServiceID   string
	TeamID      string
	ClientName  string
	OrderID     string
	Status      string // comma-separated
	CreatedFrom string // YYYY-MM-DD
	CreatedTo   string
	SendFrom    string
	SendTo      string
	TLChecked   string // "checked", "unchecked", "" or "All"
}

// DateRange is an inclusive range with optional bounds.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (r DateRange) Empty() bool {
	return r.From == nil && r.To == nil
}

// Filter is the normalized form of a FilterSpec, ready for SQL assembly.
type Filter struct {
	Page       int
	Limit      int
	Skip       int
	ProfileID  string
	ServiceID  string
	TeamID     string
	ClientName string
	OrderID    string
	Statuses   []string
	Created    DateRange
	Send       DateRange
	TLChecked  TriState
}

// Normalize resolves defaults, strips sentinels, splits multi-value fields,
// and expands date bounds. now anchors open-ended "from" ranges.
func (s FilterSpec) Normalize(now time.Time) (Filter, error) {
	f := Filter{
		Page:       s.Page,
		Limit:      s.Limit,
		ProfileID:  dropSentinel(s.ProfileID),
		ServiceID:  dropSentinel(s.ServiceID),
		TeamID:     dropSentinel(s.TeamID),
		ClientName: strings.TrimSpace(s.ClientName),
		OrderID:    strings.TrimSpace(s.OrderID),
	}
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	f.Skip = (f.Page - 1) * f.Limit

	if raw := dropSentinel(s.Status); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Statuses = append(f.Statuses, part)
			}
		}
	}

	var err error
	if f.Created, err = parseRange("created", s.CreatedFrom, s.CreatedTo, now); err != nil {
		return Filter{}, err
	}
	if f.Send, err = parseRange("send", s.SendFrom, s.SendTo, now); err != nil {
		return Filter{}, err
	}

	switch dropSentinel(s.TLChecked) {
	case "":
		f.TLChecked = Any
	case "checked":
		f.TLChecked = Present
	case "unchecked":
		f.TLChecked = Absent
	default:
		return Filter{}, fmt.Errorf("%w: tlChecked must be checked, unchecked or All", ErrInvalidFilter)
	}

	return f, nil
}

// CacheKey serializes the spec field by field in a fixed order, so two specs
// share a key exactly when every field matches byte for byte. Values are
// escaped so a value containing the separators cannot alias another spec.
func (s FilterSpec) CacheKey() string {
	parts := []string{
		"page=" + strconv.Itoa(s.Page),
		"limit=" + strconv.Itoa(s.Limit),
		"profile=" + url.QueryEscape(s.ProfileID),
		"service=" + url.QueryEscape(s.ServiceID),
		"team=" + url.QueryEscape(s.TeamID),
		"client=" + url.QueryEscape(s.ClientName),
		"order=" + url.QueryEscape(s.OrderID),
		"status=" + url.QueryEscape(s.Status),
		"createdFrom=" + url.QueryEscape(s.CreatedFrom),
		"createdTo=" + url.QueryEscape(s.CreatedTo),
		"sendFrom=" + url.QueryEscape(s.SendFrom),
		"sendTo=" + url.QueryEscape(s.SendTo),
		"tlChecked=" + url.QueryEscape(s.TLChecked),
	}
	return strings.Join(parts, "&")
}

func dropSentinel(value string) string {
	value = strings.TrimSpace(value)
	if value == All {
		return ""
	}
	return value
}

// parseRange expands YYYY-MM-DD bounds into an inclusive range. Upper bounds
// cover the whole day; a lone lower bound runs up to now.
func parseRange(field, fromRaw, toRaw string, now time.Time) (DateRange, error) {
	var r DateRange
	if fromRaw == "" && toRaw == "" {
		return r, nil
	}
	if fromRaw != "" {
		from, err := time.Parse(dateLayout, fromRaw)
		if err != nil {
			return r, fmt.Errorf("%w: %sFrom %q is not a date", ErrInvalidFilter, field, fromRaw)
		}
		r.From = &from
	}
	if toRaw != "" {
		to, err := time.Parse(dateLayout, toRaw)
		if err != nil {
			return r, fmt.Errorf("%w: %sTo %q is not a date", ErrInvalidFilter, field, toRaw)
		}
		end := endOfDay(to)
		r.To = &end
	} else {
		r.To = &now
	}
	return r, nil
}

func endOfDay(day time.Time) time.Time {
	return day.Add(24*time.Hour - time.Millisecond)
}
